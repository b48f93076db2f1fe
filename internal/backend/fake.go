package backend

import (
	"context"
	"io"
)

// FakeSession is an in-memory Session used by protocol engine tests.
// Each Execute call records the SQL it received and pops the next queued
// script entry.
type FakeSession struct {
	Version  string
	Schema   string
	Executed []string
	Script   []FakeReply
	Closed   bool
}

// FakeReply is one scripted Execute outcome.
type FakeReply struct {
	Columns  []Column
	Rows     [][]Value
	Affected int64
	Err      error
}

func (f *FakeSession) Execute(_ context.Context, sql string) (*Result, error) {
	f.Executed = append(f.Executed, sql)
	if len(f.Script) == 0 {
		return &Result{}, nil
	}
	reply := f.Script[0]
	f.Script = f.Script[1:]
	if reply.Err != nil {
		return nil, reply.Err
	}
	if reply.Columns != nil {
		return &Result{Rows: &fakeRows{cols: reply.Columns, rows: reply.Rows}}, nil
	}
	return &Result{Affected: reply.Affected}, nil
}

func (f *FakeSession) SetSchema(_ context.Context, name string) error {
	f.Schema = name
	return nil
}

func (f *FakeSession) ServerVersion() string {
	if f.Version == "" {
		return "5.7.25"
	}
	return f.Version
}

func (f *FakeSession) Ping(context.Context) error { return nil }

func (f *FakeSession) Close() error {
	f.Closed = true
	return nil
}

type fakeRows struct {
	cols []Column
	rows [][]Value
	pos  int
}

func (r *fakeRows) Columns() []Column { return r.cols }

func (r *fakeRows) Next() ([]Value, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

func (r *fakeRows) Close() error { return nil }
