// Package api implements the operator HTTP surface of the bridge.
//
// It is read-only and intended for a local address:
//
//	GET /api/v1/health          dependency checks and supervisor status
//	GET /api/v1/metrics         JSON snapshot of task, collector and broker counters
//	GET /api/v1/readings        latest reading of every meter
//	GET /api/v1/readings/{addr} latest plus stored readings for one unit
//	GET /api/v1/tasks/events    supervisor task event log
//	GET /api/v1/ws              live tap of documents forwarded to the broker
//	GET /metrics                Prometheus exposition
//
// The live tap has two channels, "config" and "state". Clients pick them
// with ?channels=config,state or a subscribe message:
//
//	{"type":"subscribe","id":"1","payload":{"channels":["state"]}}
//
// Lifecycle follows the other infrastructure components:
//
//	hub := api.NewHub(cfg.WebSocket, log)
//	srv, err := api.New(api.Deps{..., Hub: hub})
//	srv.Start(ctx)
//	defer srv.Close()
package api
