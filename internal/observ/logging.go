package observ

import (
	"encoding/json"
	"fmt"
	"time"
)

// Log emits one structured JSON line per event. The engine reports every
// state transition, deny reason, and breaker trip through here; external
// alerting consumes the stream, the engine never formats human notifications.
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}
