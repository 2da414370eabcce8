// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/anowell/netfuse/cfg"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesToLogPath(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "netfuse.log")

	logger := cfg.NewLogger(cfg.Options{LogPath: logPath, Debug: true})
	logger.Debug("hello from the dispatcher", "op", "lookup")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello from the dispatcher")
}

func TestNewLoggerDefaultsToInfoLevel(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "netfuse.log")

	logger := cfg.NewLogger(cfg.Options{LogPath: logPath})
	logger.Debug("should not appear")
	logger.Info("should appear")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NotContains(t, string(data), "should not appear")
	require.Contains(t, string(data), "should appear")
}
