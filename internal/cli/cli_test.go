package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misev/asqldb/internal/app"
	"github.com/misev/asqldb/internal/config"
	"github.com/misev/asqldb/internal/session"
	"github.com/misev/asqldb/pkg/types"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "asqldb", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "query", "collections"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for flag, def := range map[string]string{"config": "", "env-file": "", "data-dir": "", "format": "text"} {
		f := cmd.PersistentFlags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, def, f.DefValue, flag)
	}

	queryCmd, _, err := cmd.Find([]string{"query"})
	require.NoError(t, err)
	write := queryCmd.Flags().Lookup("write")
	require.NotNil(t, write)
	assert.Equal(t, "w", write.Shorthand)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "collections")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "collections")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// startEngine serves a fresh engine and returns its port.
func startEngine(t *testing.T) int {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.GRPC.Addr = "127.0.0.1:0"
	a, err := app.New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a.Addr().(*net.TCPAddr).Port
}

func TestQueryAndCollectionsThroughEnvFile(t *testing.T) {
	port := startEngine(t)
	t.Setenv("ASQLDB_REMOTE_PORT", "")
	os.Unsetenv("ASQLDB_REMOTE_PORT")

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte(fmt.Sprintf("ASQLDB_REMOTE_PORT=%d\n", port)), 0644))

	_, err := execute(t, "--env-file", envFile, "query", "--write", "create collection c GreySet1")
	require.NoError(t, err)
	_, err = execute(t, "--env-file", envFile, "query", "-w", "insert into c values <[0:1] 4c, 5c>")
	require.NoError(t, err)

	out, err := execute(t, "--env-file", envFile, "query", "select add_cells(c) from c")
	require.NoError(t, err)
	assert.Equal(t, "9\n", out)

	out, err = execute(t, "--env-file", envFile, "collections")
	require.NoError(t, err)
	assert.Equal(t, "c\n", out)

	out, err = execute(t, "--env-file", envFile, "--format", "json", "collections", "--describe")
	require.NoError(t, err)
	var lines []string
	require.NoError(t, json.Unmarshal([]byte(out), &lines))
	assert.Equal(t, []string{"c [0:1]"}, lines)

	_, err = execute(t, "--env-file", envFile, "query", "select c from missing as c")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err = execute(t, "--env-file", envFile, "query", "--ignore-failure", "select c from missing as c")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestQueryThroughConfigFile(t *testing.T) {
	port := startEngine(t)
	path := filepath.Join(t.TempDir(), "asqldb.yaml")
	yaml := fmt.Sprintf("remote:\n  server: 127.0.0.1\n  port: %d\n", port)
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	out, err := execute(t, "--config", path, "--format", "json", "query", "SELECT 1")
	require.NoError(t, err)
	var bag []int64
	require.NoError(t, json.Unmarshal([]byte(out), &bag))
	assert.Equal(t, []int64{1}, bag)
}

func TestOutputFormatterBag(t *testing.T) {
	arr := types.NewMArray(types.Double, types.Sdom{{Lo: 0, Hi: 1}})
	arr.Cells = []float64{0.5, 2}
	bag := session.Bag{int64(3), "x", []byte{0xab}, types.ArrayRef{Collection: "C", OID: 1025}, arr}

	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}
	require.NoError(t, f.Bag(bag))
	assert.Equal(t, "3\nx\nab\nC:1025\nDOUBLE [0:1] [0.5 2]\n", buf.String())

	buf.Reset()
	f.Format = "json"
	require.NoError(t, f.Bag(bag))
	var decoded []any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 5)
	assert.Equal(t, "C:1025", decoded[3])
	assert.Equal(t, map[string]any{"cell_type": "DOUBLE", "domain": "[0:1]", "cells": []any{0.5, 2.0}}, decoded[4])
}

func TestExitError(t *testing.T) {
	err := WrapExitError(ExitCommandError, "boom", fmt.Errorf("inner"))
	assert.Equal(t, "boom: inner", err.Error())
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("plain")))
}
