package grpctransport

import (
	"context"
	"time"

	"github.com/juju/errors"
	"google.golang.org/grpc"

	"github.com/flowctl/core/pkg/repository"
)

// Client dials a single remote flowctl endpoint and implements both
// repository.NodeProtocolSender (cluster-manager transport) and the
// RemoteProcessGroup transport of §4.11 against it.
type Client struct {
	target string
	conn   *grpc.ClientConn
}

// Dial connects to target. It does not block past the initial connection
// attempt; grpc retries transparently on subsequent calls if the remote is
// briefly unreachable.
func Dial(target string) (*Client, error) {
	conn, err := grpc.Dial(target, grpc.WithInsecure())
	if err != nil {
		return nil, errors.Annotatef(err, "dial %s", target)
	}
	return &Client{target: target, conn: conn}, nil
}

func (c *Client) callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
}

// Heartbeat implements repository.NodeProtocolSender.
func (c *Client) Heartbeat(ctx context.Context, msg repository.HeartbeatMessage) error {
	req := &HeartbeatRequest{
		NodeID:              msg.NodeID,
		SystemStartTime:     msg.SystemStartTime,
		ActiveThreadCount:   msg.ActiveThreadCount,
		TotalQueuedObjects:  msg.TotalQueuedObjects,
		TotalQueuedBytes:    msg.TotalQueuedBytes,
		SystemDiagnostics:   msg.SystemDiagnostics,
		GroupStatusPayload:  msg.GroupStatusPayload,
		SiteToSiteListening: msg.SiteToSiteListening,
	}
	ack := new(Ack)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Heartbeat", req, ack, c.callOpts()...)
	return translateUnknownService(c.target, err)
}

// SendBulletins implements repository.NodeProtocolSender.
func (c *Client) SendBulletins(ctx context.Context, msg repository.BulletinsMessage) error {
	req := &BulletinsRequest{NodeID: msg.NodeID}
	for _, b := range msg.Bulletins {
		req.Bulletins = append(req.Bulletins, BulletinWire{
			ID: b.ID, Timestamp: b.Timestamp, Category: b.Category,
			Level: b.Level, Message: escapeXMLIllegal(b.Message), SourceID: b.SourceID,
		})
	}
	ack := new(Ack)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/SendBulletins", req, ack, c.callOpts()...)
	return translateUnknownService(c.target, err)
}

// Refresh discovers the remote's current port descriptors (§4.11).
func (c *Client) Refresh(ctx context.Context, timeout time.Duration) (*RefreshResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp := new(RefreshResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Refresh", &RefreshRequest{TargetURI: c.target}, resp, c.callOpts()...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return resp, nil
}

// Transmit sends a batch of flow-file content to portID (§4.11).
func (c *Client) Transmit(ctx context.Context, timeout time.Duration, portID string, entries []TransmitEntry) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ack := new(Ack)
	req := &TransmitRequest{PortID: portID, Entries: entries}
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Transmit", req, ack, c.callOpts()...)
	return errors.Trace(err)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func translateUnknownService(target string, err error) error {
	if err == nil {
		return nil
	}
	return &repository.ErrUnknownServiceAddress{Address: target}
}

// escapeXMLIllegal replaces any character below 0x20 other than tab, LF,
// CR with '?', the bulletin-transmission escaping rule of §4.6.
func escapeXMLIllegal(s string) string {
	out := []byte(s)
	for i, b := range out {
		if b < 0x20 && b != 0x09 && b != 0x0A && b != 0x0D {
			out[i] = '?'
		}
	}
	return string(out)
}
