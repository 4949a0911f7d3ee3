// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package taskqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resgraph",
		Subsystem: "taskqueue",
		Name:      "tasks_total",
		Help:      "Tasks completed per queue",
	}, []string{"queue"})

	tasksPanicked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resgraph",
		Subsystem: "taskqueue",
		Name:      "task_panics_total",
		Help:      "Tasks that panicked per queue",
	}, []string{"queue"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "resgraph",
		Subsystem: "taskqueue",
		Name:      "depth",
		Help:      "Tasks waiting per queue",
	}, []string{"queue"})
)
