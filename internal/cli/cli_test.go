package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command against a store in dir.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--data-dir", dir}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

type recordsResponse struct {
	Status string       `json:"status"`
	Data   []RecordView `json:"data"`
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "faultlog", cmd.Use)
	assert.Contains(t, cmd.Long, "most recent first")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"add", "query", "query-self", "stats", "retention", "sql", "serve"}

	for _, name := range commands {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "command %s should exist", name)
			require.NotNil(t, sub)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	dataDir := cmd.PersistentFlags().Lookup("data-dir")
	require.NotNil(t, dataDir)
	assert.Equal(t, "d", dataDir.Shorthand)
}

func TestQueryCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	queryCmd, _, err := cmd.Find([]string{"query"})
	require.NoError(t, err)

	typeFlag := queryCmd.Flags().Lookup("type")
	require.NotNil(t, typeFlag)
	assert.Equal(t, "t", typeFlag.Shorthand)

	limitFlag := queryCmd.Flags().Lookup("limit")
	require.NotNil(t, limitFlag)
	assert.Equal(t, "0", limitFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, t.TempDir(), "--format", "yaml", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestAddThenQuery(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "add", "--type", "appfreeze", "--module", "com.example.app",
		"--uid", "10001", "--pid", "42", "--summary", "APP_FREEZE 0")
	require.NoError(t, err)
	_, err = execute(t, dir, "add", "--module", "com.example.app", "--signal", "SIGSEGV",
		"--thread", "Tid:1, Name:main")
	require.NoError(t, err)

	out, err := execute(t, dir, "--format", "json", "query", "--type", "all")
	require.NoError(t, err)

	var resp recordsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)

	// Most recent first.
	assert.Equal(t, "CPP_CRASH", resp.Data[0].TypeName)
	assert.Contains(t, resp.Data[0].Reason, "SIGSEGV")
	assert.Equal(t, "APP_FREEZE", resp.Data[1].TypeName)
	assert.Equal(t, int32(10001), resp.Data[1].UID)
	assert.Equal(t, int32(42), resp.Data[1].PID)
	assert.Greater(t, resp.Data[0].Seq, resp.Data[1].Seq)
	assert.Empty(t, resp.Data[0].FullLog)

	out, err = execute(t, dir, "--format", "json", "query", "--type", "appfreeze", "--full")
	require.NoError(t, err)
	resp = recordsResponse{}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Contains(t, resp.Data[0].FullLog, "APP_FREEZE 0")
	assert.Equal(t, "com.example.app", resp.Data[0].Sections["MODULE"])
	assert.Contains(t, resp.Data[0].Sections["SUMMARY"], "APP_FREEZE 0")
}

func TestQueryFilters(t *testing.T) {
	dir := t.TempDir()

	for _, module := range []string{"com.example.a", "com.example.b", "com.example.a"} {
		_, err := execute(t, dir, "add", "--type", "jscrash", "--module", module, "--reason", "TypeError")
		require.NoError(t, err)
	}

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"module", []string{"--module", "com.example.a"}, 2},
		{"other module", []string{"--module", "com.example.b"}, 1},
		{"unknown module", []string{"--module", "com.example.c"}, 0},
		{"since duration", []string{"--since", "1h"}, 3},
		{"since future", []string{"--since", "4102444800"}, 0},
		{"module and since", []string{"--module", "com.example.b", "--since", "0"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--format", "json", "query", "--type", "all"}, tt.args...)
			out, err := execute(t, dir, args...)
			require.NoError(t, err)

			var resp recordsResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Len(t, resp.Data, tt.want)
		})
	}

	t.Run("bad since", func(t *testing.T) {
		_, err := execute(t, dir, "query", "--type", "all", "--since", "yesterday")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}

func TestQueryByName(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "add", "--type", "appfreeze", "--module", "com.example.app",
		"--uid", "10001", "--summary", "APP_FREEZE 0")
	require.NoError(t, err)

	out, err := execute(t, dir, "--format", "json", "query", "--type", "appfreeze")
	require.NoError(t, err)
	var listed recordsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed.Data, 1)
	name := listed.Data[0].LogName

	out, err = execute(t, dir, "--format", "json", "query", "--name", name, "--full")
	require.NoError(t, err)
	var found recordsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found.Data, 1)
	assert.Equal(t, listed.Data[0].Seq, found.Data[0].Seq)
	assert.Contains(t, found.Data[0].FullLog, "APP_FREEZE 0")

	out, err = execute(t, dir, "query", "--name", "appfreeze-nobody-0-20000101000000000")
	require.NoError(t, err)
	assert.Contains(t, out, "no records")

	_, err = execute(t, dir, "query")
	require.Error(t, err)

	_, err = execute(t, dir, "query", "--type", "all", "--name", name)
	require.Error(t, err)
}

func TestParseSince(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"1699999000", 1699999000, false},
		{"90s", 1699999910, false},
		{"2h", 1699992800, false},
		{"-5", 0, true},
		{"-1h", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSince(tt.in, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryText(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "query", "--type", "jscrash")
	require.NoError(t, err)
	assert.Contains(t, out, "no records")

	_, err = execute(t, dir, "add", "--type", "jscrash", "--module", "com.example.app", "--reason", "TypeError")
	require.NoError(t, err)

	out, err = execute(t, dir, "query", "--type", "jscrash", "--full")
	require.NoError(t, err)
	assert.Contains(t, out, "SEQ")
	assert.Contains(t, out, "JS_ERROR")
	assert.Contains(t, out, "TypeError")
	assert.Contains(t, out, "=== jscrash-com.example.app-0-")
}

func TestAddErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("unknown type", func(t *testing.T) {
		_, err := execute(t, dir, "add", "--type", "bogus", "--module", "m")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("unspecified type", func(t *testing.T) {
		out, err := execute(t, dir, "--format", "json", "add", "--type", "all", "--module", "m")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, `"code":401`)
	})

	t.Run("missing module", func(t *testing.T) {
		_, err := execute(t, dir, "add", "--type", "appfreeze")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "module")
	})
}

func TestQuerySelf(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "add", "--type", "appfreeze", "--module", "com.example.mine", "--uid", "7")
	require.NoError(t, err)
	_, err = execute(t, dir, "add", "--type", "appfreeze", "--module", "com.example.other", "--uid", "8")
	require.NoError(t, err)

	out, err := execute(t, dir, "--format", "json", "query-self", "--uid", "7", "--module", "com.example.mine", "--fault-type", "0")
	require.NoError(t, err)
	var resp recordsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "com.example.mine", resp.Data[0].Module)

	out, err = execute(t, dir, "query-self", "--uid", "7", "--module", "com.example.mine", "--fault-type", "99")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRetentionAndSQL(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 3; i++ {
		_, err := execute(t, dir, "add", "--type", "cppcrash", "--module", "com.example.app", "--reason", "crash")
		require.NoError(t, err)
	}

	out, err := execute(t, dir, "retention", "--dry-run", "--max-per-type", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "would evict 2 records")

	out, err = execute(t, dir, "query", "--type", "cppcrash")
	require.NoError(t, err)
	assert.NotContains(t, out, "no records")

	out, err = execute(t, dir, "retention", "--max-per-type", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "evicted 2 records")
	assert.Contains(t, out, "archived 2 records")

	out, err = execute(t, dir, "--format", "json", "query", "--type", "cppcrash")
	require.NoError(t, err)
	var live recordsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &live))
	require.Len(t, live.Data, 1)
	assert.Equal(t, int64(3), live.Data[0].Seq)

	out, err = execute(t, dir, "--format", "json", "query", "--type", "cppcrash", "--archive")
	require.NoError(t, err)
	var archived recordsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &archived))
	require.Len(t, archived.Data, 2)
	assert.Equal(t, int64(2), archived.Data[0].Seq)

	out, err = execute(t, dir, "--format", "json", "sql", "SELECT count(*) AS n FROM archive")
	require.NoError(t, err)
	var rows struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows.Data, 1)
	assert.EqualValues(t, 2, rows.Data[0]["n"])
}

func TestStats(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "add", "--type", "appfreeze", "--module", "m")
	require.NoError(t, err)

	out, err := execute(t, dir, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "live records: 1")
	assert.Contains(t, out, "APP_FREEZE:")

	out, err = execute(t, dir, "--format", "json", "stats")
	require.NoError(t, err)
	var resp struct {
		Status string                 `json:"status"`
		Data   map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.EqualValues(t, 1, resp.Data["live"])
	assert.EqualValues(t, 2, resp.Data["next_seq"])
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
}
