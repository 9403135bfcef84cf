/*
Package metrics provides Prometheus-based instrumentation for the HTTP
entry endpoint, the four-stage request pipeline, route selection, and
the OAuth token refresh path.

# Overview

Collector registers and records Prometheus metrics using promauto's
automatic registration, so no Registry needs to be managed by hand.
Every metric is namespace-scoped and label-dimensioned for Grafana-style
dashboards and alerting.

# Core types

  - Collector: the metrics collector, holding the Counter and Histogram
    vectors used across the HTTP shell and pipeline runtime.

# Coverage

  - HTTP: request count, request duration, request/response body size,
    grouped by method/path/status, with status bucketed into 2xx/3xx/4xx/5xx.
  - Pipeline: execution count and duration per pipeline id, plus
    per-stage duration broken out by traversal direction.
  - Routing: category→pipeline selection counts.
  - Provider: upstream call count, duration, and token usage, grouped
    by provider/model.
  - Auth: OAuth refresh attempt outcomes, grouped by token family.
*/
package metrics
