// Package qemu implements the process-level hypervisor backend. Instances
// are qemu-system processes launched directly by the daemon, controlled
// over the QEMU Machine Protocol (QMP) on a per-instance unix socket, with
// user-mode networking and a host port forwarded to the guest's sshd.
package qemu

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/log"
)

// qmpResponseTimeout bounds one command round trip.
const qmpResponseTimeout = 5 * time.Second

// QMPClient is a client for the QEMU Machine Protocol: JSON commands and
// responses over a unix socket, with asynchronous events interleaved.
type QMPClient struct {
	conn    net.Conn
	scanner *bufio.Scanner
	encoder *json.Encoder

	nextID  atomic.Uint64
	pending map[uint64]chan *qmpResponse
	mu      sync.Mutex
	closed  atomic.Bool
}

type qmpCommand struct {
	Execute   string                 `json:"execute"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	ID        uint64                 `json:"id,omitempty"`
}

type qmpResponse struct {
	Return json.RawMessage        `json:"return,omitempty"`
	Error  *qmpError              `json:"error,omitempty"`
	ID     uint64                 `json:"id,omitempty"`
	Event  string                 `json:"event,omitempty"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

type qmpError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

// NewQMPClient connects to an instance's QMP socket and performs the
// protocol handshake: read the greeting, send qmp_capabilities, then start
// the event loop.
func NewQMPClient(ctx context.Context, socketPath string, startupTimeout time.Duration) (*QMPClient, error) {
	if err := waitForSocket(ctx, socketPath, startupTimeout); err != nil {
		return nil, fmt.Errorf("QMP socket not available: %w", err)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to QMP socket: %w", err)
	}

	qmp := &QMPClient{
		conn:    conn,
		scanner: bufio.NewScanner(conn),
		encoder: json.NewEncoder(conn),
		pending: make(map[uint64]chan *qmpResponse),
	}

	if !qmp.scanner.Scan() {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to read QMP greeting")
	}

	var greeting struct {
		QMP struct {
			Version struct {
				QEMU struct {
					Major int `json:"major"`
					Minor int `json:"minor"`
					Micro int `json:"micro"`
				} `json:"qemu"`
			} `json:"version"`
		} `json:"QMP"`
	}
	if err := json.Unmarshal(qmp.scanner.Bytes(), &greeting); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to parse QMP greeting: %w", err)
	}

	log.G(ctx).WithFields(log.Fields{
		"major": greeting.QMP.Version.QEMU.Major,
		"minor": greeting.QMP.Version.QEMU.Minor,
		"micro": greeting.QMP.Version.QEMU.Micro,
	}).Debug("qemu: connected to QMP")

	if _, err := qmp.run(ctx, "qmp_capabilities", nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to negotiate QMP capabilities: %w", err)
	}

	go qmp.eventLoop(ctx)

	return qmp, nil
}

// run sends a QMP command and waits for its response, returning the raw
// return payload.
func (q *QMPClient) run(ctx context.Context, command string, args map[string]interface{}) (json.RawMessage, error) {
	if q.closed.Load() {
		return nil, fmt.Errorf("QMP client closed")
	}

	id := q.nextID.Add(1)

	respChan := make(chan *qmpResponse, 1)
	q.mu.Lock()
	// Close may have nilled the map between the closed check and the lock.
	if q.pending == nil {
		q.mu.Unlock()
		return nil, fmt.Errorf("QMP client closed")
	}
	q.pending[id] = respChan
	q.mu.Unlock()

	cmd := qmpCommand{
		Execute:   command,
		Arguments: args,
		ID:        id,
	}
	if err := q.encoder.Encode(cmd); err != nil {
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()
		return nil, fmt.Errorf("failed to send QMP command %s: %w", command, err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, fmt.Errorf("QMP connection closed while waiting for %s", command)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("QMP error for %s: %s: %s", command, resp.Error.Class, resp.Error.Desc)
		}
		return resp.Return, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()
		return nil, ctx.Err()
	case <-time.After(qmpResponseTimeout):
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()
		return nil, fmt.Errorf("timeout waiting for QMP response to %s", command)
	}
}

// eventLoop dispatches responses to waiters and logs asynchronous events.
func (q *QMPClient) eventLoop(ctx context.Context) {
	for q.scanner.Scan() {
		if q.closed.Load() {
			return
		}

		var resp qmpResponse
		if err := json.Unmarshal(q.scanner.Bytes(), &resp); err != nil {
			log.G(ctx).WithError(err).Warn("qemu: failed to parse QMP message")
			continue
		}

		if resp.Event != "" {
			log.G(ctx).WithFields(log.Fields{
				"event": resp.Event,
				"data":  resp.Data,
			}).Debug("qemu: QMP event")
			continue
		}

		q.mu.Lock()
		ch, ok := q.pending[resp.ID]
		if ok {
			delete(q.pending, resp.ID)
		}
		q.mu.Unlock()

		if ok {
			select {
			case ch <- &resp:
			default:
			}
		}
	}

	if err := q.scanner.Err(); err != nil {
		log.G(ctx).WithError(err).Debug("qemu: QMP scanner error")
	}
}

// SystemPowerdown requests a graceful guest shutdown (ACPI power button).
func (q *QMPClient) SystemPowerdown(ctx context.Context) error {
	_, err := q.run(ctx, "system_powerdown", nil)
	return err
}

// Quit terminates the qemu process immediately.
func (q *QMPClient) Quit(ctx context.Context) error {
	_, err := q.run(ctx, "quit", nil)
	return err
}

// QueryStatus returns qemu's run status ("running", "paused", ...).
func (q *QMPClient) QueryStatus(ctx context.Context) (string, error) {
	ret, err := q.run(ctx, "query-status", nil)
	if err != nil {
		return "", err
	}

	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(ret, &status); err != nil {
		return "", fmt.Errorf("failed to parse query-status return: %w", err)
	}
	return status.Status, nil
}

// SaveVM writes a named snapshot of the guest, including RAM, through the
// human monitor. There is no native QMP savevm command.
func (q *QMPClient) SaveVM(ctx context.Context, tag string) error {
	ret, err := q.run(ctx, "human-monitor-command", map[string]interface{}{
		"command-line": "savevm " + tag,
	})
	if err != nil {
		return err
	}

	// The human monitor reports errors as non-empty output.
	var output string
	if err := json.Unmarshal(ret, &output); err == nil && output != "" {
		return fmt.Errorf("savevm failed: %s", output)
	}
	return nil
}

// DelVM removes a named snapshot through the human monitor.
func (q *QMPClient) DelVM(ctx context.Context, tag string) error {
	ret, err := q.run(ctx, "human-monitor-command", map[string]interface{}{
		"command-line": "delvm " + tag,
	})
	if err != nil {
		return err
	}

	var output string
	if err := json.Unmarshal(ret, &output); err == nil && output != "" {
		return fmt.Errorf("delvm failed: %s", output)
	}
	return nil
}

// Close closes the QMP connection. Safe to call more than once.
func (q *QMPClient) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}

	q.mu.Lock()
	for _, ch := range q.pending {
		close(ch)
	}
	q.pending = nil
	q.mu.Unlock()

	return q.conn.Close()
}

// waitForSocket waits for a unix socket to appear on disk.
func waitForSocket(ctx context.Context, socketPath string, timeout time.Duration) error {
	startedAt := time.Now()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if time.Since(startedAt) > timeout {
			return fmt.Errorf("timeout waiting for socket: %s", socketPath)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := os.Stat(socketPath); err == nil {
				return nil
			}
		}
	}
}
