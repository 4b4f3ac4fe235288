package config

// GenerateConfigTemplate returns a commented configuration file holding the
// default values
func GenerateConfigTemplate() string {
	return `# Print marketplace configuration
# Save as ~/.print-marketplace.yaml or pass --config <file>.
# Every key can also be set through the environment, for example
# MARKETPLACE_DATABASE_PASSWORD or MARKETPLACE_SERVER_LISTEN.

server:
  listen: ":3000"              # HTTP listen address
  upload_dir: uploads          # temporary directory for restore uploads
  max_upload_size: 52428800    # largest accepted backup upload in bytes (50MB)
  static_dir: ""               # optional built frontend served with an index.html fallback
  allowed_origins: ["*"]       # CORS origins
  read_header_timeout: 10s
  read_timeout: 2m             # whole request including the upload body
  write_timeout: 2m
  shutdown_timeout: 15s        # grace period for in-flight requests

database:
  driver: pgx                  # pgx (PostgreSQL), mysql or sqlite3
  host: localhost
  port: 0                      # 0 picks the driver default (5432 or 3306)
  username: postgres
  password: ""                 # prefer MARKETPLACE_DATABASE_PASSWORD
  database: marketplace
  ssl_mode: disable            # PostgreSQL only
  path: ""                     # sqlite3 only, defaults to marketplace.db
  timeout: 30s
  max_open_conns: 0            # 0 picks a driver-specific pool size
  max_idle_conns: 0
  conn_max_lifetime: 5m

backup:
  restore_timeout: 60s         # a restore that runs longer is rolled back
  consistent_export: false     # export inside one read-only snapshot transaction

  # Archives are server-side copies of exports
  storage:
    provider: local            # local, s3, azure or gcs
    local:
      base_path: ./backups
    # s3:
    #   bucket: marketplace-backups
    #   region: us-east-1
    #   endpoint: ""           # set for S3-compatible services
    #   access_key: ""         # empty uses the default AWS credential chain
    #   secret_key: ""
    #   prefix: archives/
    # azure:
    #   account_name: ""
    #   account_key: ""
    #   container_name: backups
    #   prefix: archives/
    # gcs:
    #   bucket: marketplace-backups
    #   credentials_path: ""   # defaults to GOOGLE_APPLICATION_CREDENTIALS
    #   project_id: ""
    #   prefix: archives/

  compression:
    algorithm: gzip            # none, gzip, lz4 or zstd
    level: 0                   # 0 uses the algorithm default

  encryption:
    enabled: false             # AES-256-GCM
    key_source: env            # env (hex key), file (32 raw bytes) or passphrase
    key_env_var: MARKETPLACE_BACKUP_KEY
    key_path: ""
    passphrase: ""

  retention:
    max_archives: 0            # 0 keeps every archive
    max_age: 0s                # e.g. 720h; 0 disables age based pruning

logging:
  level: normal                # quiet, normal, verbose or debug
  format: text                 # text or json
  file: ""                     # also write logs to this file
  show_caller: false

display:
  color_enabled: true
  theme: dark                  # dark, light, high-contrast or plain
  output_format: table         # table, json, yaml or compact
  use_icons: true
  table_style: default         # default, rounded or minimal
  max_table_width: 120
`
}
