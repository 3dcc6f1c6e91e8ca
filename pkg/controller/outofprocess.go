package controller

import (
	"context"
	"io"

	"github.com/juju/errors"

	"github.com/flowctl/core/pkg/extension"
	"github.com/flowctl/core/pkg/flowfile"
	"github.com/flowctl/core/pkg/session"
)

// outOfProcessAdapter adapts a subprocess-hosted plug-in, reached
// through pkg/extension's net/rpc transport, to the registry.Processor
// contract a locally-registered class satisfies. It translates one
// trigger's pulled batch into extension.FlowFileIO by uuid, since a live
// session or queue reference cannot itself cross the process boundary
// (§4.9).
type outOfProcessAdapter struct {
	remote *extension.RemoteProcessor
}

func (a *outOfProcessAdapter) Configure(controllerID string, data map[string]interface{}) error {
	return errors.Trace(a.remote.Configure(extension.ConfigureArgs{ControllerID: controllerID, Data: data}))
}

func (a *outOfProcessAdapter) OnTrigger(_ context.Context, sess *session.Session) error {
	batch := sess.GetBatch(100)
	if len(batch) == 0 {
		return nil
	}

	byUUID := make(map[string]*flowfile.Record, len(batch))
	req := extension.TriggerRequest{Input: make([]extension.FlowFileIO, len(batch))}
	for i, r := range batch {
		byUUID[r.UUID] = r
		content, err := readAll(sess, r)
		if err != nil {
			return errors.Annotatef(err, "read content for %s", r.UUID)
		}
		req.Input[i] = extension.FlowFileIO{Attributes: r.Attributes, Content: content}
	}

	resp, err := a.remote.Trigger(req)
	if err != nil {
		return errors.Trace(err)
	}

	for _, routed := range resp.Routed {
		r, ok := byUUID[routed.FlowFile.Attributes[flowfile.AttrUUID]]
		if !ok {
			continue
		}
		if len(routed.FlowFile.Content) > 0 {
			if err := sess.Write(r, routed.FlowFile.Content); err != nil {
				return errors.Trace(err)
			}
		}
		for k, v := range routed.FlowFile.Attributes {
			sess.PutAttribute(r, k, v)
		}
		sess.Transfer(r, routed.Relationship)
		delete(byUUID, r.UUID)
	}
	for _, dropped := range resp.Dropped {
		r, ok := byUUID[dropped.Attributes[flowfile.AttrUUID]]
		if !ok {
			continue
		}
		sess.Drop(r, "rejected by out-of-process plug-in")
		delete(byUUID, r.UUID)
	}
	// anything left in byUUID the subprocess neither routed nor dropped is
	// left pulled-but-untransferred, which Commit auto-terminates.
	return nil
}

func readAll(sess *session.Session, r *flowfile.Record) ([]byte, error) {
	rc, err := sess.Read(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
