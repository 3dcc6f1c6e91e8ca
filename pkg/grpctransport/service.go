package grpctransport

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

const serviceName = "flowctl.NodeProtocol"

// HeartbeatRequest is the wire shape of repository.HeartbeatMessage.
type HeartbeatRequest struct {
	NodeID              string
	SystemStartTime     time.Time
	ActiveThreadCount   int
	TotalQueuedObjects  int64
	TotalQueuedBytes    int64
	SystemDiagnostics   map[string]interface{}
	GroupStatusPayload  []byte
	SiteToSiteListening bool
}

// BulletinWire is the wire shape of a single repository.Bulletin.
type BulletinWire struct {
	ID        int64
	Timestamp time.Time
	Category  string
	Level     string
	Message   string
	SourceID  string
}

// BulletinsRequest is the wire shape of repository.BulletinsMessage.
type BulletinsRequest struct {
	NodeID    string
	Bulletins []BulletinWire
}

// Ack is the empty acknowledgement returned by Heartbeat, SendBulletins
// and Transmit.
type Ack struct{}

// RefreshRequest asks the remote for its current port descriptors
// (§4.11).
type RefreshRequest struct {
	TargetURI string
}

// PortDescriptorWire mirrors graph.RemotePortDescriptor on the wire.
type PortDescriptorWire struct {
	ID   string
	Name string
}

// RefreshResponse carries the remote's discovered ports.
type RefreshResponse struct {
	InputPorts  []PortDescriptorWire
	OutputPorts []PortDescriptorWire
}

// TransmitRequest carries one batch of flow-file content to a named
// remote port (§4.11).
type TransmitRequest struct {
	PortID  string
	Entries []TransmitEntry
}

// TransmitEntry is one flow-file's attributes plus content bytes.
type TransmitEntry struct {
	Attributes map[string]string
	Content    []byte
}

// Server is implemented by whatever owns the node protocol / site-to-site
// endpoints on the receiving side — typically another flowctl controller,
// or in tests a stub.
type Server interface {
	Heartbeat(ctx context.Context, req *HeartbeatRequest) (*Ack, error)
	SendBulletins(ctx context.Context, req *BulletinsRequest) (*Ack, error)
	Refresh(ctx context.Context, req *RefreshRequest) (*RefreshResponse, error)
	Transmit(ctx context.Context, req *TransmitRequest) (*Ack, error)
}

func heartbeatHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(HeartbeatRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Heartbeat(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Heartbeat"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).Heartbeat(ctx, req.(*HeartbeatRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func sendBulletinsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(BulletinsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).SendBulletins(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/SendBulletins"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).SendBulletins(ctx, req.(*BulletinsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func refreshHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(RefreshRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Refresh(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Refresh"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).Refresh(ctx, req.(*RefreshRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func transmitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(TransmitRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Transmit(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Transmit"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).Transmit(ctx, req.(*TransmitRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is the hand-built service descriptor registered with
// grpc.Server in place of a protoc-generated one.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Heartbeat", Handler: heartbeatHandler},
		{MethodName: "SendBulletins", Handler: sendBulletinsHandler},
		{MethodName: "Refresh", Handler: refreshHandler},
		{MethodName: "Transmit", Handler: transmitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flowctl/nodeprotocol.proto",
}

// RegisterServer registers impl with s.
func RegisterServer(s *grpc.Server, impl Server) {
	s.RegisterService(&ServiceDesc, impl)
}
