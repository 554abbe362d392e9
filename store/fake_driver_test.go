package store

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// fakeDriver returns scripted results in order and records every query for
// assertion.
type fakeDriver struct {
	results []neo4j.EagerResult
	errs    []error
	calls   []fakeCall
}

type fakeCall struct {
	query  string
	params map[string]any
}

func (d *fakeDriver) ExecuteQuery(
	_ context.Context, query string, params map[string]any,
) (neo4j.EagerResult, error) {
	d.calls = append(d.calls, fakeCall{query: query, params: params})

	idx := len(d.calls) - 1
	if idx < len(d.errs) && d.errs[idx] != nil {
		return neo4j.EagerResult{}, d.errs[idx]
	}
	if idx < len(d.results) {
		return d.results[idx], nil
	}
	return neo4j.EagerResult{}, nil
}

func (d *fakeDriver) BuildIndices(context.Context) error { return nil }
func (d *fakeDriver) Close(context.Context) error        { return nil }

func (d *fakeDriver) lastCall() fakeCall {
	return d.calls[len(d.calls)-1]
}

func recordWith(keys []string, values []any) *db.Record {
	return &db.Record{Keys: keys, Values: values}
}

func resultWithRecords(records ...*db.Record) neo4j.EagerResult {
	return neo4j.EagerResult{Records: records}
}

func resultWithNode(key string, node dbtype.Node) neo4j.EagerResult {
	return resultWithRecords(recordWith([]string{key}, []any{node}))
}

func resultWithValue(key string, value any) neo4j.EagerResult {
	return resultWithRecords(recordWith([]string{key}, []any{value}))
}

func emptyResult() neo4j.EagerResult {
	return neo4j.EagerResult{}
}
