package server

import (
	"encoding/json"
	"fmt"

	"github.com/varhub/varhub/internal/protocol"
	"github.com/varhub/varhub/internal/registry"
	"github.com/varhub/varhub/internal/variable"
	"github.com/varhub/varhub/internal/vartype"
)

// handleMessage dispatches one inbound frame. Every request is answered on
// the same session with a result or an error carrying the request's rid.
func (s *Server) handleMessage(sess *Session, msg *protocol.Message) {
	var (
		result any
		err    error
	)
	switch msg.Type {
	case protocol.MsgRegister:
		result, err = s.handleRegister(msg.Data)
	case protocol.MsgGet:
		result, err = s.handleGet(msg.Data)
	case protocol.MsgUpdate:
		result, err = s.handleUpdate(sess, msg.Data)
	case protocol.MsgList:
		result, err = s.handleList(msg.Data)
	case protocol.MsgDelete:
		result, err = s.handleDelete(msg.Data)
	case protocol.MsgObserve:
		result, err = s.handleObserve(sess, msg.Data)
	case protocol.MsgUnobserve:
		result, err = s.handleUnobserve(sess, msg.Data)
	case protocol.MsgStartOptimization:
		result, err = s.handleLock(sess, msg.Data, true)
	case protocol.MsgEndOptimization:
		result, err = s.handleLock(sess, msg.Data, false)
	case protocol.MsgSnapshot:
		result, err = s.handleSnapshot()
	case protocol.MsgUsageBatch:
		result, err = s.handleUsageBatch(msg.Data)
	case protocol.MsgImpactBatch:
		result, err = s.handleImpactBatch(msg.Data)
	case protocol.MsgHeartbeat:
		s.coord.Heartbeat(sess.ID())
		result = protocol.AckResult{OK: true}
	default:
		err = &registry.ValidationError{Reason: fmt.Sprintf("unknown message type %q", msg.Type)}
	}

	if err != nil {
		s.sendError(sess, msg.RID, err)
		return
	}
	s.sendResult(sess, msg.RID, result)
}

func (s *Server) handleRegister(data json.RawMessage) (any, error) {
	var req protocol.RegisterRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &registry.ValidationError{Reason: err.Error()}
	}
	tag := vartype.Tag(req.Type)
	value, err := protocol.DecodeValue(tag, req.Value)
	if err != nil {
		return nil, &registry.ValidationError{Reason: err.Error()}
	}
	constraints, err := protocol.DecodeConstraints(req.Constraints)
	if err != nil {
		return nil, &registry.ValidationError{Reason: err.Error()}
	}
	id, err := s.coord.Register(registry.RegisterRequest{
		Name:         req.Name,
		Type:         tag,
		Value:        value,
		Constraints:  constraints,
		Dependencies: req.Dependencies,
		Metadata:     req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return protocol.RegisterResult{ID: id}, nil
}

func (s *Server) handleGet(data json.RawMessage) (any, error) {
	var req protocol.GetRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &registry.ValidationError{Reason: err.Error()}
	}
	rec, err := s.coord.Get(req.Key)
	if err != nil {
		return nil, err
	}
	wv, err := protocol.EncodeRecord(rec)
	if err != nil {
		return nil, err
	}
	return protocol.GetResult{Variable: wv}, nil
}

func (s *Server) handleUpdate(sess *Session, data json.RawMessage) (any, error) {
	var req protocol.UpdateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &registry.ValidationError{Reason: err.Error()}
	}
	// Resolve first to learn the type tag; the coordinator re-resolves under
	// its own serialization when it commits.
	rec, err := s.coord.Get(req.Key)
	if err != nil {
		return nil, err
	}
	value, err := protocol.DecodeValue(rec.Type, req.Value)
	if err != nil {
		return nil, &registry.ValidationError{Reason: err.Error()}
	}
	cause := req.Cause
	if cause == nil {
		cause = map[string]string{}
	}
	if _, ok := cause["session"]; !ok {
		cause["session"] = sess.ID()
	}
	if err := s.coord.Update(req.Key, value, cause); err != nil {
		return nil, err
	}
	return protocol.AckResult{OK: true}, nil
}

func (s *Server) handleList(data json.RawMessage) (any, error) {
	var req protocol.ListRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, &registry.ValidationError{Reason: err.Error()}
		}
	}
	recs := s.coord.List(variable.Filter{
		Type:       vartype.Tag(req.Type),
		NamePrefix: req.NamePrefix,
	})
	vars, err := protocol.EncodeRecords(recs)
	if err != nil {
		return nil, err
	}
	return protocol.ListResult{Variables: vars}, nil
}

func (s *Server) handleDelete(data json.RawMessage) (any, error) {
	var req protocol.DeleteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &registry.ValidationError{Reason: err.Error()}
	}
	if err := s.coord.Delete(req.Key); err != nil {
		return nil, err
	}
	return protocol.AckResult{OK: true}, nil
}

func (s *Server) handleObserve(sess *Session, data json.RawMessage) (any, error) {
	var req protocol.ObserveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &registry.ValidationError{Reason: err.Error()}
	}
	if err := s.coord.Observe(req.Key, sess); err != nil {
		return nil, err
	}
	return protocol.AckResult{OK: true}, nil
}

func (s *Server) handleUnobserve(sess *Session, data json.RawMessage) (any, error) {
	var req protocol.UnobserveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &registry.ValidationError{Reason: err.Error()}
	}
	if err := s.coord.Unobserve(req.Key, sess.ID()); err != nil {
		return nil, err
	}
	return protocol.AckResult{OK: true}, nil
}

func (s *Server) handleLock(sess *Session, data json.RawMessage, start bool) (any, error) {
	var req protocol.LockRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &registry.ValidationError{Reason: err.Error()}
	}
	session := req.Session
	if session == "" {
		session = sess.ID()
	}
	var err error
	if start {
		err = s.coord.StartOptimization(req.Key, session)
	} else {
		err = s.coord.EndOptimization(req.Key, session)
	}
	if err != nil {
		return nil, err
	}
	return protocol.AckResult{OK: true}, nil
}

func (s *Server) handleSnapshot() (any, error) {
	vars, err := protocol.EncodeRecords(s.coord.Snapshot())
	if err != nil {
		return nil, err
	}
	return protocol.SnapshotResult{Variables: vars}, nil
}

func (s *Server) handleUsageBatch(data json.RawMessage) (any, error) {
	var batch protocol.UsageBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, &registry.ValidationError{Reason: err.Error()}
	}
	records := make([]registry.UsageRecord, 0, len(batch.Records))
	for _, e := range batch.Records {
		value, err := protocol.DecodeAny(e.Value)
		if err != nil {
			return nil, &registry.ValidationError{Reason: err.Error()}
		}
		records = append(records, registry.UsageRecord{
			VariableID: e.VariableID,
			Value:      value,
			Site:       e.Site,
			Timestamp:  e.Timestamp,
		})
	}
	if err := s.coord.ReportUsage(records); err != nil {
		return nil, err
	}
	return protocol.AckResult{OK: true}, nil
}

func (s *Server) handleImpactBatch(data json.RawMessage) (any, error) {
	var batch protocol.ImpactBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, &registry.ValidationError{Reason: err.Error()}
	}
	records := make([]registry.ImpactRecord, 0, len(batch.Records))
	for _, e := range batch.Records {
		records = append(records, registry.ImpactRecord{
			VariableID: e.VariableID,
			Metric:     e.Metric,
			Value:      e.Value,
			Samples:    e.Samples,
		})
	}
	if err := s.coord.ReportImpact(records); err != nil {
		return nil, err
	}
	return protocol.AckResult{OK: true}, nil
}

func (s *Server) sendResult(sess *Session, rid string, result any) {
	msg, err := protocol.NewMessage(protocol.MsgResult, rid, result)
	if err != nil {
		s.log.Error().Err(err).Msg("encode result")
		return
	}
	if err := sess.Send(msg); err != nil {
		sess.log.Debug().Err(err).Msg("result write failed")
	}
}

func (s *Server) sendError(sess *Session, rid string, opErr error) {
	msg, err := protocol.NewMessage(protocol.MsgError, rid, protocol.ErrorMessage{
		Code:        registry.Code(opErr),
		Description: opErr.Error(),
		Details:     registry.Details(opErr),
	})
	if err != nil {
		s.log.Error().Err(err).Msg("encode error")
		return
	}
	if err := sess.Send(msg); err != nil {
		sess.log.Debug().Err(err).Msg("error write failed")
	}
}
