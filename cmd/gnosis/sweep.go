// Copyright 2025 Kadir Pekel
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

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/gnosis/pkg/cache"
	"github.com/kadirpekel/gnosis/pkg/config"
)

// SweepCmd deletes expired cache entries once and exits. The same
// sweep runs periodically inside serve; this command covers cron-style
// deployments.
type SweepCmd struct{}

func (c *SweepCmd) Run(cli *CLI) error {
	cfg, loader, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()
	initLogger(&cfg.Logging, cli.LogLevel)

	db, err := config.OpenDB(&cfg.Index.SQL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	store, err := cache.NewSQLStore(db, cfg.Index.SQL.Dialect)
	if err != nil {
		return fmt.Errorf("failed to open cache store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	swept, err := store.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	fmt.Printf("swept %d expired cache entries\n", swept)
	return nil
}
