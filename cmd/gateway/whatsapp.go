package main

import (
	"context"
	"database/sql"

	waLog "go.mau.fi/whatsmeow/util/log"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/sipeed/gatewaybridge/pkg/config"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

// connectWhatsApp attaches to an already-paired whatsmeow device store at
// cfg.WhatsAppSessionPath. Returns (nil, nil) when no device has been
// paired yet — WhatsApp linking is a manual, one-time QR-scan operation,
// deliberately left out of this process's startup path so `gateway serve`
// never blocks waiting for an operator to scan a code.
func connectWhatsApp(cfg *config.Config) (*whatsmeow.Client, error) {
	db, err := sql.Open("sqlite", "file:"+cfg.WhatsAppSessionPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, model.NewError(model.KindFatal, "open whatsapp session store", err)
	}

	// whatsmeow's sqlstore picks its query dialect from this string, not
	// from the registered driver name; modernc.org/sqlite registers under
	// "sqlite" while whatsmeow only recognizes the "sqlite3" dialect
	// keyword, so we hand it an already-open *sql.DB instead of letting it
	// call sql.Open itself.
	container := sqlstore.NewWithDB(db, "sqlite3", waLog.Noop)
	if err := container.Upgrade(context.Background()); err != nil {
		return nil, model.NewError(model.KindFatal, "migrate whatsapp session store", err)
	}

	device, err := container.GetFirstDevice(context.Background())
	if err != nil {
		return nil, model.NewError(model.KindFatal, "load whatsapp device", err)
	}
	if device == nil || device.ID == nil {
		return nil, nil // no paired device yet; pairing is an out-of-band operator step
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	if err := client.Connect(); err != nil {
		return nil, model.NewError(model.KindFatal, "connect whatsapp client", err)
	}
	return client, nil
}
