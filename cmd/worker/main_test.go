package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
	os.Exit(m.Run())
}

func TestMainSkipsStartupInTestMode(t *testing.T) {
	require.NotPanics(t, main)
}
