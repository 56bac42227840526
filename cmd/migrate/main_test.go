package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/practice-booking/migrations"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args []string
		want command
	}{
		{nil, command{name: "up"}},
		{[]string{"up"}, command{name: "up"}},
		{[]string{"down"}, command{name: "down", steps: 1}},
		{[]string{"down", "3"}, command{name: "down", steps: 3}},
		{[]string{"force", "4"}, command{name: "force", steps: 4}},
		{[]string{"version"}, command{name: "version"}},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.args)
		require.NoError(t, err, "%v", tt.args)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range [][]string{{"down", "0"}, {"down", "x"}, {"force"}, {"force", "v2"}, {"sideways"}} {
		_, err := parseCommand(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestMigrationsArePaired(t *testing.T) {
	entries, err := migrations.FS.ReadDir(".")
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}
