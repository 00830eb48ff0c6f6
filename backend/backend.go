// Package backend opens the message store named by the configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dhcgn/mapi-to-maildir/config"
	"github.com/dhcgn/mapi-to-maildir/dump"
	"github.com/dhcgn/mapi-to-maildir/imap"
	"github.com/dhcgn/mapi-to-maildir/mbox"
	"github.com/dhcgn/mapi-to-maildir/source"
	"github.com/dhcgn/mapi-to-maildir/sqlitestore"
)

// Open returns the store selected by cfg.SourceType. The caller closes it.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (source.Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("backend", cfg.SourceType)

	switch cfg.SourceType {
	case config.SourceDump:
		store, err := dump.Load(cfg.Source)
		if err != nil {
			return nil, err
		}
		logger.Debug("dump loaded", "path", cfg.Source, "store", store.Name())
		return store, nil
	case config.SourceSQLite:
		store, err := sqlitestore.Open(cfg.Source)
		if err != nil {
			return nil, err
		}
		logger.Debug("sqlite store opened", "path", cfg.Source, "store", store.Name())
		return store, nil
	case config.SourceMbox:
		store, err := mbox.Open(cfg.Source, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.SourceIMAP:
		store, err := imap.Open(ctx, imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.SourceType)
	}
}
