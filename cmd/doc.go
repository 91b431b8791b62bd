// Package cmd implements the spiderctl command line.
//
// Architecture overview:
//   - Console: internal/app.BuildConsole wires the HTTP plugin client, the
//     configuration state manager, the status view and the notification hub.
//     Mutating commands run one remote operation and then save, which emits a
//     save notification carrying the full configuration.
//   - Notifications: the hub batches events to the log, Prometheus, snapshot
//     and publisher sinks. The snapshot sink writes <prefix>/latest.json to the
//     configured blob store (memory, local or GCS); the next run loads it as the
//     persisted configuration.
//   - Backend: "spiderctl serve" runs the reference plugin API from
//     internal/server over an in-memory or Postgres repository.
//
// Quick checklist:
//   - Configure via spiderctl.yaml (searched in ., $HOME/.spiderctl, /etc/spiderctl)
//     or SPIDER_* env vars, e.g. SPIDER_BACKEND_BASE_URL, SPIDER_BACKEND_API_KEY,
//     SPIDER_STORAGE_BACKEND, SPIDER_PUBSUB_PROJECT_ID. A .env file is loaded first.
//   - Run the backend: spiderctl serve
//   - Inspect: spiderctl status, spiderctl config show -o yaml
package cmd
