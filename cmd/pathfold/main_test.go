package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliSchema = `
classes:
  - name: Person
    properties:
      - {name: name}
      - {name: age, type: number}
      - {name: address, type: link, linked: Address}
    indexes:
      - fields: [address]
  - name: Address
    properties:
      - {name: city, type: link, linked: City}
    indexes:
      - fields: [city]
  - name: City
    properties:
      - {name: name}
    indexes:
      - fields: [name]
`

const cliRecords = `
records:
  - {id: c1, class: City, fields: {name: Springfield}}
  - {id: c2, class: City, fields: {name: Shelbyville}}
  - {id: a1, class: Address, fields: {city: c1}}
  - {id: a2, class: Address, fields: {city: c2}}
  - {id: p1, class: Person, fields: {name: Homer, age: 39, address: a1}}
  - {id: p2, class: Person, fields: {name: Ned, age: 60, address: a2}}
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.yaml")
	recordsPath := filepath.Join(dir, "records.yaml")
	require.NoError(t, os.WriteFile(schemaPath, []byte(cliSchema), 0644))
	require.NoError(t, os.WriteFile(recordsPath, []byte(cliRecords), 0644))

	t.Setenv("PATHFOLD_LOG_LEVEL", "ERROR")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{
		"--config", filepath.Join(dir, "none.yaml"),
		"--schema", schemaPath,
		"--data", recordsPath,
		"--data-dir", filepath.Join(dir, "data"),
	}, args...))
	err := cmd.Execute()
	return out.String(), err
}

type queryOutput struct {
	Strategy string   `json:"strategy"`
	Count    int      `json:"count"`
	IDs      []string `json:"ids"`
}

func decodeQuery(t *testing.T, out string) queryOutput {
	t.Helper()
	var q queryOutput
	require.NoError(t, json.Unmarshal([]byte(out), &q), out)
	return q
}

func TestQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		strategy string
		ids      []string
	}{
		{"folded", []string{"query", "address.city.name", "--class", "Person", "--value", "Springfield"}, "fold", []string{"p1"}},
		{"negated", []string{"query", "address.city.name", "--class", "Person", "--value", "Springfield", "--not"}, "fold", []string{"p2"}},
		{"no fold", []string{"--no-fold", "query", "address.city.name", "--class", "Person", "--value", "Springfield"}, "scan", []string{"p1"}},
		{"numeric value", []string{"query", "age", "--class", "Person", "--value", "60"}, "fold", []string{"p2"}},
		{"link id", []string{"query", "address", "--class", "Person", "--id", "a1"}, "fold", []string{"p1"}},
		{"badger", []string{"--backend", "badger", "query", "address.city.name", "--class", "Person", "--value", "Shelbyville"}, "fold", []string{"p2"}},
		{"sqlite", []string{"--backend", "sqlite", "query", "address.city.name", "--class", "Person", "--value", "Shelbyville"}, "fold", []string{"p2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			require.NoError(t, err)
			q := decodeQuery(t, out)
			assert.Equal(t, tt.strategy, q.Strategy)
			assert.Equal(t, tt.ids, q.IDs)
			assert.Equal(t, len(tt.ids), q.Count)
		})
	}
}

func TestQuery_Errors(t *testing.T) {
	_, err := run(t, "query", "address.city.name")
	assert.Error(t, err, "--class is required")

	_, err = run(t, "query", "address..name", "--class", "Person", "--value", "x")
	assert.Error(t, err)

	_, err = run(t, "query", "name", "--class", "Robot", "--value", "x")
	assert.Error(t, err)

	_, err = run(t, "query", "name", "--class", "Person", "--value", "[a, b]")
	assert.Error(t, err)
}

func TestExplain(t *testing.T) {
	out, err := run(t, "--json", "explain", "address.city.name", "--class", "Person")
	require.NoError(t, err)

	var doc struct {
		Strategy string `json:"strategy"`
		Seed     string `json:"seed"`
		Hops     []struct {
			Field string `json:"field"`
			Index string `json:"index"`
		} `json:"hops"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	assert.Equal(t, "fold", doc.Strategy)
	assert.Equal(t, "City.name", doc.Seed)
	require.Len(t, doc.Hops, 2)
	assert.Equal(t, "Address.city", doc.Hops[0].Index)
	assert.Equal(t, "Person.address", doc.Hops[1].Index)
}

func TestStats(t *testing.T) {
	out, err := run(t, "stats")
	require.NoError(t, err)

	var stats []struct {
		Name    string `json:"name"`
		Records int    `json:"records"`
		Indexes []struct {
			Name  string `json:"name"`
			Usage int64  `json:"usage"`
		} `json:"indexes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats), out)
	require.Len(t, stats, 3)
	assert.Equal(t, "Address", stats[0].Name)
	assert.Equal(t, 2, stats[0].Records)
	assert.Equal(t, "Person", stats[2].Name)
	assert.Equal(t, 2, stats[2].Records)
	require.Len(t, stats[2].Indexes, 1)
	assert.Equal(t, "Person.address", stats[2].Indexes[0].Name)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pathfold v"+version)
}

func TestParseValues(t *testing.T) {
	values, err := parseValues([]string{"42", "3.5", "true", "hello", `"42"`, "null", ""})
	require.NoError(t, err)
	assert.Equal(t, []any{42, 3.5, true, "hello", "42", nil, ""}, values)

	_, err = parseValues([]string{"{a: 1}"})
	assert.Error(t, err)
}
