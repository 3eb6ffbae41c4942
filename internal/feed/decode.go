package feed

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

// Login failures. Both are terminal for the client.
var (
	ErrAuthentication    = errors.New("feed authentication failed")
	ErrTwoFactorRequired = errors.New("feed account requires a two-factor token")
)

func decodeEvent(data string) (string, []gjson.Result, error) {
	if !gjson.Valid(data) {
		return "", nil, fmt.Errorf("invalid event payload %q", truncate(data))
	}
	parsed := gjson.Parse(data)
	if !parsed.IsArray() {
		return "", nil, fmt.Errorf("event payload is not an array")
	}
	items := parsed.Array()
	if len(items) == 0 || items[0].Type != gjson.String {
		return "", nil, fmt.Errorf("event payload missing name")
	}
	return items[0].String(), items[1:], nil
}

// decodeMonitorList accepts the object keyed by monitor id that the feed sends,
// and tolerates a plain array. The result is ordered by id.
func decodeMonitorList(raw gjson.Result) []types.MonitorDefinition {
	var out []types.MonitorDefinition
	keyed := raw.IsObject()
	raw.ForEach(func(key, value gjson.Result) bool {
		fallback := ""
		if keyed {
			fallback = key.String()
		}
		def, ok := decodeMonitor(value, fallback)
		if ok {
			out = append(out, def)
		}
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

func decodeMonitor(v gjson.Result, fallbackID string) (types.MonitorDefinition, bool) {
	if !v.IsObject() {
		return types.MonitorDefinition{}, false
	}
	id := idString(v.Get("id"))
	if id == "" {
		id = fallbackID
	}
	if id == "" {
		return types.MonitorDefinition{}, false
	}
	rawType := v.Get("type").String()
	def := types.MonitorDefinition{
		ID:      id,
		Name:    v.Get("name").String(),
		Type:    types.ParseMonitorType(rawType),
		RawType: rawType,
		Active:  truthy(v.Get("active"), true),
	}
	for _, t := range v.Get("tags").Array() {
		name := t.Get("name").String()
		if name == "" {
			continue
		}
		tag := types.Tag{Name: name}
		if value := t.Get("value"); value.Exists() && value.Type != gjson.Null {
			s := value.String()
			tag.Value = &s
		}
		def.Tags = append(def.Tags, tag)
	}
	return def, true
}

// decodeHeartbeat normalizes a heartbeat record. fallbackID is used when the
// record itself does not name its monitor (heartbeat list entries).
func decodeHeartbeat(v gjson.Result, fallbackID string, receivedAt time.Time) (types.Heartbeat, bool) {
	if !v.IsObject() {
		return types.Heartbeat{}, false
	}
	id := idString(v.Get("monitorID"))
	if id == "" {
		id = idString(v.Get("monitor_id"))
	}
	if id == "" {
		id = fallbackID
	}
	if id == "" {
		return types.Heartbeat{}, false
	}
	status := v.Get("status")
	if !status.Exists() {
		return types.Heartbeat{}, false
	}
	code := types.StatusCodeDown
	switch status.Type {
	case gjson.True:
		code = types.StatusCodeUp
	case gjson.Number:
		code = types.StatusCode(status.Int())
	}
	return types.Heartbeat{
		MonitorID:  id,
		Status:     code,
		Latency:    v.Get("ping").Float(),
		Message:    v.Get("msg").String(),
		Time:       v.Get("time").String(),
		ReceivedAt: receivedAt,
	}, true
}

func decodeHeartbeatList(args []gjson.Result, receivedAt time.Time) (HeartbeatList, bool) {
	if len(args) < 2 {
		return HeartbeatList{}, false
	}
	id := idString(args[0])
	if id == "" || !args[1].IsArray() {
		return HeartbeatList{}, false
	}
	list := HeartbeatList{Stamp: at(receivedAt), MonitorID: id}
	for _, item := range args[1].Array() {
		if hb, ok := decodeHeartbeat(item, id, receivedAt); ok {
			hb.MonitorID = id
			list.Heartbeats = append(list.Heartbeats, hb)
		}
	}
	if len(args) > 2 {
		list.Overwrite = args[2].Bool()
	}
	return list, true
}

func decodeUptime(args []gjson.Result, receivedAt time.Time) (Uptime, bool) {
	if len(args) == 0 {
		return Uptime{}, false
	}
	id := idString(args[0])
	if id == "" {
		return Uptime{}, false
	}
	up := Uptime{Stamp: at(receivedAt), MonitorID: id}
	if len(args) > 1 {
		up.Period = int(args[1].Int())
	}
	if len(args) > 2 {
		up.Value = args[2].Float()
	}
	return up, true
}

// decodeLoginAck interprets the acknowledgement of a login event.
func decodeLoginAck(data string) error {
	res := gjson.Parse(data)
	if res.IsArray() {
		res = res.Get("0")
	}
	if res.Get("ok").Bool() {
		return nil
	}
	if res.Get("tokenRequired").Bool() {
		return ErrTwoFactorRequired
	}
	if msg := res.Get("msg").String(); msg != "" {
		return fmt.Errorf("%w: %s", ErrAuthentication, msg)
	}
	return ErrAuthentication
}

func idString(v gjson.Result) string {
	switch v.Type {
	case gjson.Number:
		return strconv.FormatInt(v.Int(), 10)
	case gjson.String:
		return v.String()
	default:
		return ""
	}
}

func truthy(v gjson.Result, fallback bool) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Number:
		return v.Int() != 0
	default:
		return fallback
	}
}

func lessID(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
