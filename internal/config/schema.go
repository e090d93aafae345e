package config

// configSchema is the CUE contract the YAML file must satisfy. Defaults
// here mirror defaultConfig so a partial file validates and the decoder
// fills the gaps identically.
const configSchema = `
#Duration: string & =~"^[0-9]+(ns|us|µs|ms|s|m|h)$"
#ByteSize: string & =~"^[0-9]+(\\.[0-9]+)?\\s?([KMGTE]i?B?|B)?$"

hash_version: *"v1" | "v2"
writer_id?:   string & !=""

log: {
	backend: *"file" | "object" | "sqlite"
	path:    *"./log" | string & !=""
	segment_max_bytes?: #ByteSize
	segment_max_count?: int & >=0
}

object_store?: {
	endpoint:        string & !=""
	bucket:          string & !=""
	prefix:          *"events" | string
	region?:         string
	credentials_ref?: string
}

leader?: {
	lease_namespace: *"default" | string & !=""
	lease_name:      *"opsledger-writer" | string & !=""
	lease_duration?: #Duration
	renew_deadline?: #Duration
	retry_period?:   #Duration
}

retry?: {
	max_attempts?: int & >0
	base_backoff?: #Duration
	jitter_cap?:   #Duration
}
`
