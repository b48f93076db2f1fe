package postgres

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/dbgateway/dbgateway/internal/proxy"
)

// sessionState is the extended-query state for one session: named
// prepared statements, bound portals, the skip-until-Sync flag set
// after an error, and the pending response buffer. Responses are
// buffered rather than written per message so a client that pipelines
// Parse/Bind/Execute without reading cannot deadlock against the
// gateway's writes; the buffer drains on Sync and Flush.
type sessionState struct {
	statements map[string]string
	portals    map[string]string
	failed     bool
	out        bytes.Buffer
}

func newSessionState() *sessionState {
	return &sessionState{
		statements: make(map[string]string),
		portals:    make(map[string]string),
	}
}

// flushTo drains the pending responses to w.
func (st *sessionState) flushTo(w io.Writer) error {
	if st.out.Len() == 0 {
		return nil
	}
	_, err := st.out.WriteTo(w)
	return err
}

func extState(s *proxy.Session) *sessionState {
	st, ok := s.Ext.(*sessionState)
	if !ok {
		st = newSessionState()
		s.Ext = st
	}
	return st
}

// handleExtended dispatches one extended-query message. After an error
// in the cycle, everything but Sync is discarded until the client
// resynchronizes.
func (e *Engine) handleExtended(ctx context.Context, s *proxy.Session, tag byte, body []byte) error {
	st := extState(s)

	if tag == msgSync {
		st.failed = false
		if err := st.flushTo(s.Conn); err != nil {
			return err
		}
		return e.writeReady(s)
	}
	if st.failed {
		return nil
	}

	var err error
	switch tag {
	case msgParse:
		err = e.handleParse(st, body)
	case msgBind:
		err = e.handleBind(st, body)
	case msgDescribe:
		err = e.handleDescribe(st, body)
	case msgExecute:
		err = e.handleExecute(ctx, s, st, body)
	case msgClose:
		err = e.handleClose(st, body)
	case msgFlush:
		err = st.flushTo(s.Conn)
	}

	if errors.Is(err, errStatementFailed) {
		st.failed = true
		return nil
	}
	return err
}

// handleParse stores the statement text under its name and confirms
// with ParseComplete. The declared parameter OIDs are ignored: binding
// substitutes text values directly.
func (e *Engine) handleParse(st *sessionState, body []byte) error {
	name, pos, ok := cString(body, 0)
	if !ok {
		return e.sendError(&st.out, "08P01", "malformed Parse message")
	}
	query, _, ok := cString(body, pos)
	if !ok {
		return e.sendError(&st.out, "08P01", "malformed Parse message")
	}
	st.statements[name] = query
	return WriteMessage(&st.out, '1', nil)
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// handleBind materializes a portal by substituting the bound parameter
// values into the statement text as quoted literals.
func (e *Engine) handleBind(st *sessionState, body []byte) error {
	portal, pos, ok := cString(body, 0)
	if !ok {
		return e.sendError(&st.out, "08P01", "malformed Bind message")
	}
	stmtName, pos, ok := cString(body, pos)
	if !ok {
		return e.sendError(&st.out, "08P01", "malformed Bind message")
	}
	query, exists := st.statements[stmtName]
	if !exists {
		return e.sendError(&st.out, "26000", fmt.Sprintf("prepared statement %q does not exist", stmtName))
	}

	// Skip the parameter format codes; values are interpreted as text.
	if pos+2 > len(body) {
		return e.sendError(&st.out, "08P01", "malformed Bind message")
	}
	nFormats := int(binary.BigEndian.Uint16(body[pos:]))
	pos += 2 + nFormats*2

	if pos+2 > len(body) {
		return e.sendError(&st.out, "08P01", "malformed Bind message")
	}
	nParams := int(binary.BigEndian.Uint16(body[pos:]))
	pos += 2

	params := make([]*string, 0, nParams)
	for i := 0; i < nParams; i++ {
		if pos+4 > len(body) {
			return e.sendError(&st.out, "08P01", "malformed Bind message")
		}
		length := int32(binary.BigEndian.Uint32(body[pos:]))
		pos += 4
		if length < 0 {
			params = append(params, nil)
			continue
		}
		if pos+int(length) > len(body) {
			return e.sendError(&st.out, "08P01", "malformed Bind message")
		}
		v := string(body[pos : pos+int(length)])
		params = append(params, &v)
		pos += int(length)
	}

	bound, err := substituteParams(query, params)
	if err != nil {
		return e.sendError(&st.out, "08P01", err.Error())
	}
	st.portals[portal] = bound
	return WriteMessage(&st.out, '2', nil)
}

// substituteParams replaces $n placeholders with quoted literal values.
func substituteParams(query string, params []*string) (string, error) {
	var substErr error
	out := placeholderRe.ReplaceAllStringFunc(query, func(m string) string {
		n, err := strconv.Atoi(m[1:])
		if err != nil || n < 1 || n > len(params) {
			substErr = fmt.Errorf("there is no parameter %s", m)
			return m
		}
		p := params[n-1]
		if p == nil {
			return "NULL"
		}
		return "'" + strings.ReplaceAll(*p, "'", "''") + "'"
	})
	return out, substErr
}

// handleDescribe reports NoData: the result shape is not known until
// execution, and clients fall back to the RowDescription sent then.
// Statement describes additionally get an empty ParameterDescription.
func (e *Engine) handleDescribe(st *sessionState, body []byte) error {
	if len(body) < 1 {
		return e.sendError(&st.out, "08P01", "malformed Describe message")
	}
	kind := body[0]
	name, _, ok := cString(body, 1)
	if !ok {
		return e.sendError(&st.out, "08P01", "malformed Describe message")
	}

	switch kind {
	case 'S':
		if _, exists := st.statements[name]; !exists {
			return e.sendError(&st.out, "26000", fmt.Sprintf("prepared statement %q does not exist", name))
		}
		if err := WriteMessage(&st.out, 't', binary.BigEndian.AppendUint16(nil, 0)); err != nil {
			return err
		}
	case 'P':
		if _, exists := st.portals[name]; !exists {
			return e.sendError(&st.out, "34000", fmt.Sprintf("portal %q does not exist", name))
		}
	default:
		return e.sendError(&st.out, "08P01", "malformed Describe message")
	}
	return WriteMessage(&st.out, 'n', nil)
}

func (e *Engine) handleExecute(ctx context.Context, s *proxy.Session, st *sessionState, body []byte) error {
	portal, _, ok := cString(body, 0)
	if !ok {
		return e.sendError(&st.out, "08P01", "malformed Execute message")
	}
	sql, exists := st.portals[portal]
	if !exists {
		return e.sendError(&st.out, "34000", fmt.Sprintf("portal %q does not exist", portal))
	}
	// The max-rows limit after the portal name is ignored; portals are
	// always run to completion.
	return e.runStatement(ctx, s, &st.out, sql)
}

func (e *Engine) handleClose(st *sessionState, body []byte) error {
	if len(body) < 1 {
		return e.sendError(&st.out, "08P01", "malformed Close message")
	}
	name, _, ok := cString(body, 1)
	if !ok {
		return e.sendError(&st.out, "08P01", "malformed Close message")
	}
	switch body[0] {
	case 'S':
		delete(st.statements, name)
	case 'P':
		delete(st.portals, name)
	}
	return WriteMessage(&st.out, '3', nil)
}
