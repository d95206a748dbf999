// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"io"
	"log/syslog"
)

// newSyslogWriter dials the local syslog daemon under the "mqtt-governance-proxy"
// tag, used when audit.destination is "syslog".
func newSyslogWriter() (io.WriteCloser, error) {
	return syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, "mqtt-governance-proxy")
}
