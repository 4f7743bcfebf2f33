package volt

import (
	"fmt"
	"net"
	"strconv"

	"github.com/marmos91/voltclient/internal/wire"
	"github.com/marmos91/voltclient/pkg/config"
)

// systemProcedures is the allow-list for the privileged invocation path.
// The user-procedure regexp forbids "@" outright, so this set is the only
// way a system procedure leaves the client.
var systemProcedures = map[string]bool{
	"@AdHoc":                    true,
	"@Ping":                     true,
	"@Pause":                    true,
	"@Quiesce":                  true,
	"@Resume":                   true,
	"@Shutdown":                 true,
	"@SnapshotRestore":          true,
	"@SnapshotSave":             true,
	"@SnapshotScan":             true,
	"@SnapshotStatus":           true,
	"@Statistics":               true,
	"@SystemCatalog":            true,
	"@SystemInformation":        true,
	"@UpdateApplicationCatalog": true,
}

func validateSystemName(proc string) error {
	if !systemProcedures[proc] {
		return newError(KindInvalidProcedureName, "%q is not an allowed system procedure", proc)
	}
	return nil
}

// parseClusterOverview extracts per-host client endpoints from the
// @SystemInformation OVERVIEW result: rows of (HOST_ID, KEY, VALUE) where
// the IPADDRESS and CLIENTPORT keys describe each node's client interface.
func parseClusterOverview(t *Table) (map[int32]string, error) {
	if t == nil {
		return nil, fmt.Errorf("cluster overview carries no table")
	}
	hostCol := t.ColumnIndex("HOST_ID")
	keyCol := t.ColumnIndex("KEY")
	valCol := t.ColumnIndex("VALUE")
	if hostCol < 0 || keyCol < 0 || valCol < 0 {
		return nil, fmt.Errorf("cluster overview misses HOST_ID/KEY/VALUE columns")
	}

	addrs := make(map[int32]string)
	ports := make(map[int32]string)
	for r := range t.Rows {
		hostID, ok := asHostID(t.Value(r, hostCol))
		if !ok {
			continue
		}
		key, _ := t.Value(r, keyCol).(string)
		val, _ := t.Value(r, valCol).(string)
		switch key {
		case "IPADDRESS":
			addrs[hostID] = val
		case "CLIENTPORT":
			ports[hostID] = val
		}
	}

	out := make(map[int32]string, len(addrs))
	for hostID, addr := range addrs {
		if addr == "" {
			continue
		}
		port := ports[hostID]
		if port == "" {
			port = strconv.Itoa(config.DefaultPort)
		}
		out[hostID] = net.JoinHostPort(addr, port)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("cluster overview names no client endpoints")
	}
	return out, nil
}

// asHostID tolerates the integer widths the overview table has shipped
// host ids in.
func asHostID(v any) (int32, bool) {
	switch n := v.(type) {
	case int32:
		return n, true
	case int64:
		return int32(n), true
	case int16:
		return int32(n), true
	case int8:
		return int32(n), true
	case string:
		id, err := strconv.ParseInt(n, 10, 32)
		if err != nil {
			return 0, false
		}
		return int32(id), true
	default:
		return 0, false
	}
}

// TypeOf reports the wire type a Go parameter value maps to. Exposed for
// callers that pre-validate argument lists.
func TypeOf(v any) (Type, error) {
	return wire.TypeOf(v)
}
