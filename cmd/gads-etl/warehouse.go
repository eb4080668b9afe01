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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jordigilh/gads-etl/pkg/statestore"
	"github.com/jordigilh/gads-etl/pkg/warehouse"
)

func newWarehouseCommand(newLogger loggerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warehouse",
		Short: "Warehouse control-plane commands",
	}
	cmd.AddCommand(newWarehouseLoadCommand(newLogger))
	return cmd
}

func newWarehouseLoadCommand(newLogger loggerFactory) *cobra.Command {
	var stateDBPath, pointerDBPath, metricsAddr string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Reconcile and publish warehouse pointers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Close()

			states, err := statestore.Open(stateDBPath, logger.Logger)
			if err != nil {
				return err
			}
			defer states.Close()

			pointers, err := warehouse.OpenPointerStore(pointerDBPath)
			if err != nil {
				return err
			}
			defer pointers.Close()

			observability := startObservability(metricsAddr, logger.Logger)
			defer observability.Close()

			reconciler := warehouse.NewReconciler(states, pointers, logger.Logger)
			reconciler.SetMetrics(observability.Metrics)
			plan, err := reconciler.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Warehouse reconciliation complete | loads=%d replacements=%d demotions=%d\n",
				len(plan.Load), len(plan.Replace), len(plan.Demote))
			return nil
		},
	}
	cmd.Flags().StringVar(&stateDBPath, "state-db-path", "data/state_store.db", "path to the partition state database")
	cmd.Flags().StringVar(&pointerDBPath, "pointer-db-path", "data/warehouse_pointers.db", "path to the warehouse pointer database")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /healthz and /metrics on for this run (disabled when empty)")
	return cmd
}
