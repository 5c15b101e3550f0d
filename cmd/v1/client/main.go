// Command client is the thin terminal client's protocol mirror: it drives
// the handshake and authenticates, then lets stdin lines become SendMessage
// commands and prints received events as they arrive. Rendering a real
// terminal UI is deliberately out of scope (spec §1 "DELIBERATELY OUT OF
// SCOPE: the terminal UI rendering and input handling") — this is the wire
// client other frontends would sit on top of.
package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lair-chat/server/internal/v1/crypto"
	"github.com/lair-chat/server/internal/v1/protocol"
)

type client struct {
	nc         net.Conn
	sessionKey [crypto.KeySize]byte
}

func main() {
	addr := flag.String("addr", "localhost:7000", "server TCP address")
	username := flag.String("username", "", "username")
	password := flag.String("password", "", "password")
	device := flag.String("device", "cli", "device label")
	flag.Parse()

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "client: -username and -password are required")
		os.Exit(1)
	}

	nc, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "client: dial failed:", err)
		os.Exit(1)
	}
	defer nc.Close()

	c := &client{nc: nc}
	if err := c.handshake(); err != nil {
		fmt.Fprintln(os.Stderr, "client: handshake failed:", err)
		os.Exit(1)
	}

	if err := c.authenticate(*username, *password, *device); err != nil {
		fmt.Fprintln(os.Stderr, "client: authenticate failed:", err)
		os.Exit(1)
	}

	go c.readLoop()
	c.inputLoop()
}

// handshake drives the client side of AwaitingServerHello through
// AwaitingKeyExchange: read the server's ephemeral public key, send our own,
// and derive the shared session key (spec §4.3, §6.1).
func (c *client) handshake() error {
	var hello protocol.ServerHello
	if err := readJSON(c.nc, &hello); err != nil {
		return fmt.Errorf("read server_hello: %w", err)
	}
	if hello.Version != protocol.ProtocolVersion {
		return fmt.Errorf("protocol version mismatch: server=%s client=%s", hello.Version, protocol.ProtocolVersion)
	}
	serverKey, err := decodeKey(hello.PubKey)
	if err != nil {
		return fmt.Errorf("decode server pubkey: %w", err)
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}

	clientHello := protocol.ClientHello{
		Type:    "client_hello",
		Version: protocol.ProtocolVersion,
		PubKey:  encodeKey(kp.Public),
	}
	if err := writeJSON(c.nc, clientHello); err != nil {
		return fmt.Errorf("write client_hello: %w", err)
	}

	shared, err := crypto.SharedSecret(kp.Private, serverKey)
	if err != nil {
		return fmt.Errorf("compute shared secret: %w", err)
	}
	c.sessionKey = crypto.DeriveSessionKey(shared)
	return nil
}

func (c *client) authenticate(username, password, device string) error {
	cmd := protocol.AuthenticateCmd{
		Type: protocol.CmdAuthenticate, RequestID: uuid.NewString(),
		Username: username, Password: password, Device: device,
	}
	payload, _ := json.Marshal(cmd)
	if err := c.sendEncrypted(payload); err != nil {
		return err
	}

	respPayload, err := c.readEncrypted()
	if err != nil {
		return err
	}
	var resp protocol.AuthenticateResponse
	if err := json.Unmarshal(respPayload, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("rejected: %s", resp.Reason)
	}
	fmt.Printf("connected as %s (session %s)\n", resp.User.Username, resp.Session.ID)
	return nil
}

// inputLoop reads stdin lines and frames them as SendMessage commands
// targeting the Lobby, the minimal behavior needed to exercise the wire
// protocol from a terminal.
func (c *client) inputLoop() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd := protocol.SendMessageCmd{
			Type: protocol.CmdSendMessage, RequestID: uuid.NewString(),
			Target: protocol.Target{Kind: protocol.TargetRoom, ID: "lobby"}, Content: line,
		}
		payload, _ := json.Marshal(cmd)
		if err := c.sendEncrypted(payload); err != nil {
			fmt.Fprintln(os.Stderr, "client: send failed:", err)
			return
		}
	}
}

// readLoop prints every incoming event's raw JSON. A real frontend would
// decode Type and render accordingly; that rendering is out of scope here.
func (c *client) readLoop() {
	for {
		payload, err := c.readEncrypted()
		if err != nil {
			fmt.Fprintln(os.Stderr, "client: connection closed:", err)
			return
		}
		fmt.Println(string(payload))
	}
}

func (c *client) sendEncrypted(payload []byte) error {
	nonce, ciphertext, err := crypto.Seal(c.sessionKey, payload)
	if err != nil {
		return err
	}
	frame := make([]byte, crypto.NonceSize+len(ciphertext))
	copy(frame, nonce[:])
	copy(frame[crypto.NonceSize:], ciphertext)
	return protocol.WriteFrame(c.nc, frame)
}

func (c *client) readEncrypted() ([]byte, error) {
	raw, err := protocol.ReadFrame(c.nc)
	if err != nil {
		return nil, err
	}
	if len(raw) < crypto.NonceSize {
		return nil, fmt.Errorf("client: frame shorter than nonce")
	}
	var nonce [crypto.NonceSize]byte
	copy(nonce[:], raw[:crypto.NonceSize])
	return crypto.Open(c.sessionKey, nonce, raw[crypto.NonceSize:])
}

func encodeKey(k [crypto.KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(k[:])
}

func decodeKey(s string) ([crypto.KeySize]byte, error) {
	var out [crypto.KeySize]byte
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != crypto.KeySize {
		return out, fmt.Errorf("public key must be %d bytes, got %d", crypto.KeySize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func writeJSON(w net.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return protocol.WriteFrame(w, payload)
}

func readJSON(r net.Conn, v any) error {
	_ = r.SetReadDeadline(time.Now().Add(10 * time.Second))
	payload, err := protocol.ReadFrame(r)
	if err != nil {
		return err
	}
	defer r.SetReadDeadline(time.Time{})
	return json.Unmarshal(payload, v)
}
