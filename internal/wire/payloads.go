// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package wire

// IdentifyPayload is sent by a Worker on connect to register its
// identity and capabilities. Capabilities containing "*" mean the
// worker accepts any plugin name.
type IdentifyPayload struct {
	WorkerID     string   `json:"worker_id"`
	Capabilities []string `json:"capabilities"`
}

// OutputSpec names the expected schema and target topic for one
// plugin output, sourced from the manifest's outputs_json.
type OutputSpec struct {
	SchemaHash string `json:"schema_hash,omitempty"`
	Topic      string `json:"topic,omitempty"`
}

// SinkSpec carries everything a worker needs to open a sink for one
// topic without any catalog access of its own: the Sentinel resolves
// TopicConfig and hands the worker a flattened copy.
type SinkSpec struct {
	TopicName string `json:"topic_name"`
	URI       string `json:"uri"`
	Mode      string `json:"mode"`
	SinkType  string `json:"sink_type"`
}

// DispatchPayload is sent by the Sentinel to assign one job to an
// idle, capable worker.
type DispatchPayload struct {
	PluginName        string                `json:"plugin_name"`
	ParserVersion     string                `json:"parser_version,omitempty"`
	FilePath          string                `json:"file_path"`
	Sinks             []SinkSpec            `json:"sinks"`
	FileID            int64                 `json:"file_id"`
	RuntimeKind       string                `json:"runtime_kind"`
	Entrypoint        string                `json:"entrypoint"`
	Platform          string                `json:"platform,omitempty"`
	SignatureVerified bool                  `json:"signature_verified"`
	SignerID          string                `json:"signer_id,omitempty"`
	EnvHash           string                `json:"env_hash,omitempty"`
	SourceCode        string                `json:"source_code,omitempty"`
	ArtifactHash      string                `json:"artifact_hash"`
	Outputs           map[string]OutputSpec `json:"outputs,omitempty"`
}

// ConcludeStatus is the terminal outcome a Worker reports for a job.
type ConcludeStatus string

const (
	ConcludeSuccess ConcludeStatus = "SUCCESS"
	ConcludeFailed  ConcludeStatus = "FAILED"
)

// SchemaMismatchWire pins the exact violation when a job failed on a
// schema hash disagreement, so the Sentinel can file it in the
// schema-mismatch bucket instead of the retry path: rerunning the same
// parser against the same manifest cannot change the outcome.
type SchemaMismatchWire struct {
	Output       string `json:"output"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
}

// ConcludePayload is sent by a Worker when a dispatched job finishes,
// whether by completion, failure, or abort.
type ConcludePayload struct {
	Status         ConcludeStatus      `json:"status"`
	Summary        string              `json:"summary,omitempty"`
	Error          string              `json:"error,omitempty"`
	SchemaMismatch *SchemaMismatchWire `json:"schema_mismatch,omitempty"`
}

// AbortPayload asks the holding worker to stop its current job.
type AbortPayload struct {
	Reason string `json:"reason,omitempty"`
}

// HeartbeatPayload carries no information beyond its frame; the
// Sentinel mirrors a Heartbeat back so workers can detect a half-open
// socket.
type HeartbeatPayload struct{}

// ErrPayload reports a protocol or execution error tied to a job.
type ErrPayload struct {
	Message string `json:"message"`
}

// ReloadPayload asks a worker to refresh its plugin cache for the
// named plugin.
type ReloadPayload struct {
	PluginName string `json:"plugin_name"`
}

// DeployPayload pushes a new plugin artifact to a worker ahead of
// dispatch, used by native runtimes that self-host their entrypoint.
type DeployPayload struct {
	PluginName   string `json:"plugin_name"`
	Version      string `json:"version"`
	ArtifactHash string `json:"artifact_hash"`
}

// AckPayload acknowledges receipt of Reload/Deploy without further
// detail.
type AckPayload struct {
	OK bool `json:"ok"`
}
