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

package cfg

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the slog.Logger the dispatcher logs every operation
// through. When LogPath is empty it writes to stderr; otherwise it writes to
// a lumberjack.Logger, which rotates LogPath according to LogMaxSizeMB,
// LogMaxBackups and LogMaxAgeDays. Debug controls whether slog.LevelDebug
// lines (one per dispatcher op) are emitted at all.
func NewLogger(opts Options) *slog.Logger {
	var w io.Writer = os.Stderr
	if opts.LogPath != "" {
		w = &lumberjack.Logger{
			Filename:   opts.LogPath,
			MaxSize:    opts.LogMaxSizeMB,
			MaxBackups: opts.LogMaxBackups,
			MaxAge:     opts.LogMaxAgeDays,
		}
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
