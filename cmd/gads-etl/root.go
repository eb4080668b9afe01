/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"github.com/spf13/cobra"

	"github.com/jordigilh/gads-etl/internal/logging"
)

func newRootCommand() *cobra.Command {
	var logLevel string
	var logFormat string

	root := &cobra.Command{
		Use:           "gads-etl",
		Short:         "Google Ads ETL controller",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, console)")

	newLogger := func() (*zapLoggerCloser, error) {
		l, err := logging.New(logging.Options{Level: logLevel, Format: logging.Format(logFormat)})
		if err != nil {
			return nil, err
		}
		return &zapLoggerCloser{l}, nil
	}

	root.AddCommand(
		newDailyCommand(newLogger),
		newCatchUpCommand(newLogger),
		newStateCommand(newLogger),
		newConsumeCommand(newLogger),
		newWarehouseCommand(newLogger),
		newObserveCommand(newLogger),
	)
	return root
}
