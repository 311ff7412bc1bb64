package linker

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"redx-pair/internal/session"
)

// Client is the part of *whatsmeow.Client a linking attempt drives.
type Client interface {
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	Connect() error
	Disconnect()
	PairPhone(ctx context.Context, phone string, showPushNotification bool, clientType whatsmeow.PairClientType, clientDisplayName string) (string, error)
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
}

var _ Client = (*whatsmeow.Client)(nil)

// Conn is a client bound to the device store living in a session workspace.
type Conn struct {
	Client Client
	Device *store.Device
	Closer func() error
}

func (c *Conn) Close() error {
	if c.Closer == nil {
		return nil
	}
	return c.Closer()
}

// Dialer opens the library authentication state for a workspace and builds a client on it.
type Dialer interface {
	Dial(ctx context.Context, ws *session.Workspace) (*Conn, error)
}

// WhatsmeowDialer keeps every device in a sqlite database inside the session workspace,
// so removing the workspace removes all key material.
type WhatsmeowDialer struct {
	log waLog.Logger
}

// NewWhatsmeowDialer sets the OS name shown in the phone's linked devices list.
func NewWhatsmeowDialer(log waLog.Logger, deviceName string) *WhatsmeowDialer {
	if deviceName != "" {
		store.DeviceProps.Os = proto.String(deviceName)
	}
	return &WhatsmeowDialer{log: log}
}

func (d *WhatsmeowDialer) Dial(ctx context.Context, ws *session.Workspace) (*Conn, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", ws.DBPath()))
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	container := sqlstore.NewWithDB(db, "sqlite3", d.log.Sub("Database"))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session database: %w", err)
	}

	deviceStore := container.NewDevice()
	client := whatsmeow.NewClient(deviceStore, d.log.Sub("Client"))
	// One attempt per request; a dropped socket ends the attempt instead of reconnecting.
	client.EnableAutoReconnect = false

	return &Conn{Client: client, Device: deviceStore, Closer: db.Close}, nil
}
