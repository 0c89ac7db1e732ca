package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistration(t *testing.T) {
	root := GetRootCmd()
	require.NotNil(t, root)
	assert.Equal(t, "mnemo", root.Use)

	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{
		"remember", "recall", "forget", "consolidate",
		"index", "code-search", "freshness",
		"cart", "status", "maintain",
	} {
		assert.True(t, names[want], "missing command %q", want)
	}
}

func TestCartSubcommands(t *testing.T) {
	root := GetRootCmd()
	for _, cmd := range root.Commands() {
		if cmd.Name() != "cart" {
			continue
		}
		names := make(map[string]bool)
		for _, sub := range cmd.Commands() {
			names[sub.Name()] = true
		}
		assert.True(t, names["export"])
		assert.True(t, names["import"])
		return
	}
	t.Fatal("cart command not registered")
}

func TestPersistentFlags(t *testing.T) {
	root := GetRootCmd()
	for _, flag := range []string{"config", "cart", "log-level"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag %q", flag)
	}
}
