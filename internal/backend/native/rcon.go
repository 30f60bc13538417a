package native

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lmdudester/garcon/internal/apperrors"
	"github.com/lmdudester/garcon/internal/template"
)

// rcon packet types (Valve Source RCON protocol, design §4.3.3).
const (
	rconTypeCommand    = 2
	rconTypeAuth       = 3
	rconTypeAuthResp   = 2
	rconTypeResponse   = 0
	rconConnectTimeout = 10 * time.Second
)

// rconClient is a minimal Source RCON client: one command per connection.
type rconClient struct {
	conn   net.Conn
	nextID int32
}

func dialRCON(ctx context.Context, addr, password string) (*rconClient, error) {
	dialer := net.Dialer{Timeout: rconConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.NativeProcess, "rcon dial "+addr, err)
	}

	c := &rconClient{conn: conn, nextID: 1}
	if err := c.authenticate(password); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *rconClient) authenticate(password string) error {
	id := c.nextID
	c.nextID++

	if err := c.writePacket(id, rconTypeAuth, password); err != nil {
		return err
	}

	respID, _, err := c.readPacket()
	if err != nil {
		// Some implementations close the socket immediately on auth
		// failure rather than sending a -1 response.
		if errors.Is(err, io.EOF) {
			return apperrors.New(apperrors.NativeProcess, "rcon auth failed: connection closed")
		}
		return err
	}
	if respID == -1 {
		return apperrors.New(apperrors.NativeProcess, "rcon auth failed: bad password")
	}
	return nil
}

// command sends a command packet and waits for the matching response.
// A connection closed by the peer after a successful auth is treated as
// success: shutdown-style commands often cause the game to exit before it
// can reply (design §4.3.3).
func (c *rconClient) command(cmd string) (string, error) {
	id := c.nextID
	c.nextID++

	if err := c.writePacket(id, rconTypeCommand, cmd); err != nil {
		return "", err
	}

	respID, payload, err := c.readPacket()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", err
	}
	if respID != id {
		return "", apperrors.Newf(apperrors.NativeProcess, "rcon response id mismatch: want %d got %d", id, respID)
	}
	return payload, nil
}

func (c *rconClient) writePacket(id int32, kind int32, payload string) error {
	body := make([]byte, 0, 14+len(payload))
	buf := bytes.NewBuffer(body)

	binary.Write(buf, binary.LittleEndian, id)
	binary.Write(buf, binary.LittleEndian, kind)
	buf.WriteString(payload)
	buf.WriteByte(0)
	buf.WriteByte(0)

	size := int32(buf.Len())
	out := new(bytes.Buffer)
	binary.Write(out, binary.LittleEndian, size)
	out.Write(buf.Bytes())

	_, err := c.conn.Write(out.Bytes())
	if err != nil {
		return apperrors.Wrap(apperrors.NativeProcess, "rcon write", err)
	}
	return nil
}

// readPacket reassembles one framed packet, handling partial reads from the
// socket (design §4.3.3 "Partial framing ... must be reassembled").
func (c *rconClient) readPacket() (int32, string, error) {
	var size int32
	if err := binary.Read(c.conn, binary.LittleEndian, &size); err != nil {
		return 0, "", err
	}
	if size < 10 {
		return 0, "", apperrors.Newf(apperrors.NativeProcess, "rcon packet too short: %d", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return 0, "", err
	}

	id := int32(binary.LittleEndian.Uint32(body[0:4]))
	// body[4:8] is the packet type, unused by the caller.
	payload := body[8 : len(body)-2]

	return id, string(payload), nil
}

func (c *rconClient) close() error {
	return c.conn.Close()
}

// rconShutdown sends the template's shutdown command over RCON. The port and
// password come only from the template's RCON block; no game-specific
// overlay is applied.
func (b *Backend) rconShutdown(ctx context.Context, tmpl template.Template) error {
	rcfg := tmpl.Exec.Rcon
	if rcfg == nil || !rcfg.Enabled {
		return apperrors.New(apperrors.Validation, "rcon not enabled for this template")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", rcfg.Port)
	client, err := dialRCON(ctx, addr, rcfg.Password)
	if err != nil {
		return err
	}
	defer client.close()

	cmd := rcfg.ShutdownCommand
	if cmd == "" {
		cmd = "stop"
	}

	_, err = client.command(cmd)
	return err
}
