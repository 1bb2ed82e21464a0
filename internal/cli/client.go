// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/iius-rcox/ai-assistant-sub001/editsqlite"
)

// openClient opens the local draft database and builds a client against
// the configured record server.
func openClient(rootOpts *RootOptions, dbPath string) (*editsqlite.Client, func(), error) {
	cfg := rootOpts.Config()
	if dbPath == "" {
		dbPath = cfg.Client.DBPath
	}
	ec, err := cfg.EditConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := editsqlite.OpenDB(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", dbPath, err)
	}
	token := cfg.Client.Token
	adapter := editsqlite.NewHTTPAdapter(cfg.Client.BaseURL,
		func(context.Context) (string, error) { return token, nil },
		&http.Client{Timeout: 15 * time.Second}, rootOpts.Logger())
	client, err := editsqlite.NewClient(db, adapter, ec, rootOpts.Logger())
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return client, func() { _ = db.Close() }, nil
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
