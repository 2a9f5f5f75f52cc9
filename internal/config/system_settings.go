package config

import (
	"os"
	"strconv"
	"time"
)

const DATABASE_TYPE = "TAXFLOW_DATABASE_TYPE"
const DATABASE_URL = "TAXFLOW_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "TAXFLOW_DATABASE_SQLLITE_FILE_NAME"
const METRICS_LISTEN_ADDR = "TAXFLOW_METRICS_LISTEN_ADDR"
const RETRY_POLL_INTERVAL = "TAXFLOW_RETRY_POLL_INTERVAL"       //how often the retry queue worker drains eligible tasks
const RETRY_BATCH_SIZE = "TAXFLOW_RETRY_BATCH_SIZE"             //number of retry tasks pulled from the database at a time
const RETRY_MAX_ATTEMPTS = "TAXFLOW_RETRY_MAX_ATTEMPTS"         //default attempt ceiling for new retry tasks
const RETRY_BACKOFF_BASE = "TAXFLOW_RETRY_BACKOFF_BASE"         //first retry delay, doubles every attempt
const RETRY_BACKOFF_CAP = "TAXFLOW_RETRY_BACKOFF_CAP"           //upper bound on any retry delay
const RETRY_BACKOFF_JITTER_MAX = "TAXFLOW_RETRY_BACKOFF_JITTER" //uniform jitter added on top of the delay
const SUBMISSION_TIMEOUT = "TAXFLOW_SUBMISSION_TIMEOUT"         //timeout applied to the external KSeF submission call

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

// GetSystemSettingDuration parses the setting as a time.Duration, returning
// zero when unset or malformed.
func GetSystemSettingDuration(settingKey string) time.Duration {
	val := GetSystemSettingString(settingKey)
	if val == "" {
		return 0
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return 0
	}
	return dur
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	if settingKey == RETRY_POLL_INTERVAL {
		return "30s"
	}
	if settingKey == RETRY_BATCH_SIZE {
		return "10"
	}
	if settingKey == RETRY_MAX_ATTEMPTS {
		return "5"
	}
	if settingKey == RETRY_BACKOFF_BASE {
		return "5s"
	}
	if settingKey == RETRY_BACKOFF_CAP {
		return "5m"
	}
	if settingKey == RETRY_BACKOFF_JITTER_MAX {
		return "1s"
	}
	if settingKey == SUBMISSION_TIMEOUT {
		return "30s"
	}
	if settingKey == METRICS_LISTEN_ADDR {
		return ":9090"
	}
	if settingKey == DATABASE_SQLLITE_FILE_NAME {
		return "./taxflow.db"
	}
	return ""
}
