package templates

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `
port: 8881
host: localhost
environment: dev
filesystem_type: local
lineage_store: db

db:
  driver: sqlite
  dsn: file:./data/main.db

s3:
  endpoint_url: ""
  region_name: ""
  bucket_name: ""
  folder: "public"
  vanity_url: ""

gcs:
  bucket_name: ""
  folder: "images"
  signed_url_expiry: 168h

transform:
  max_attempts: 3
  base_delay: 2s
  timeout: 5m
  fetch_attempts: 5
  fetch_base_delay: 1s
  fetch_timeout: 30s
  max_input_side: 2048

upload:
  max_workers: 4

batch:
  delay: 2s
`

const envTemplate = `# External API services
FAL_KEY=
OPENAI_API_KEY=

# S3 credentials
LINEAGE_S3_ACCESS_KEY=
LINEAGE_S3_SECRET_KEY=

# Google Cloud Storage
GOOGLE_APPLICATION_CREDENTIALS=
`

func GetConfigTemplate() string {
	return configTemplate
}

func WriteConfig(path string) error {
	return writeTemplate(path, configTemplate)
}

func WriteEnv(path string) error {
	return writeTemplate(path, envTemplate)
}

func CreateLineageHomeDirs(lineageHome string) error {
	subdirs := []string{"assets", "data"}
	if err := os.MkdirAll(lineageHome, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create lineage home directory: %w", err)
	}

	for _, subdir := range subdirs {
		dir := filepath.Join(lineageHome, subdir)
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", subdir, err)
		}
	}

	return nil
}

func writeTemplate(path, content string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString(content)
	return err
}
