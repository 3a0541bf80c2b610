package gateway

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/c360/sensorhub/errors"
	"github.com/c360/sensorhub/sensors"
)

type activateRequest struct {
	Enabled bool `json:"enabled"`
}

type batchRequest struct {
	SamplingPeriodNs   int64 `json:"sampling_period_ns"`
	MaxReportLatencyNs int64 `json:"max_report_latency_ns"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type modeResponse struct {
	Mode string `json:"mode"`
}

type sensorsResponse struct {
	Sensors []sensors.Descriptor `json:"sensors"`
	Dynamic []sensors.Descriptor `json:"dynamic"`
}

type statusResponse struct {
	Result string `json:"result"`
}

// instrument counts requests and tags responses with a request id.
func (g *Gateway) instrument(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		g.requestsTotal.Add(1)

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
		}
		next(w, r)
	}
}

func (g *Gateway) handleSensors(w http.ResponseWriter, _ *http.Request) {
	resp := sensorsResponse{
		Sensors: g.proxy.SensorsList(),
		Dynamic: g.proxy.DynamicSensors(),
	}
	if resp.Sensors == nil {
		resp.Sensors = []sensors.Descriptor{}
	}
	if resp.Dynamic == nil {
		resp.Dynamic = []sensors.Descriptor{}
	}
	g.writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleActivate(w http.ResponseWriter, r *http.Request) {
	handle, ok := g.pathHandle(w, r)
	if !ok {
		return
	}
	var req activateRequest
	if !g.decode(w, r, &req) {
		return
	}
	g.writeResult(w, g.proxy.Activate(handle, req.Enabled))
}

func (g *Gateway) handleBatch(w http.ResponseWriter, r *http.Request) {
	handle, ok := g.pathHandle(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if !g.decode(w, r, &req) {
		return
	}
	g.writeResult(w, g.proxy.Batch(handle, req.SamplingPeriodNs, req.MaxReportLatencyNs))
}

func (g *Gateway) handleFlush(w http.ResponseWriter, r *http.Request) {
	handle, ok := g.pathHandle(w, r)
	if !ok {
		return
	}
	g.writeResult(w, g.proxy.Flush(handle))
}

func (g *Gateway) handleInject(w http.ResponseWriter, r *http.Request) {
	var event sensors.Event
	if !g.decode(w, r, &event) {
		return
	}
	g.writeResult(w, g.proxy.InjectSensorData(event))
}

func (g *Gateway) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, modeResponse{Mode: g.proxy.OperationMode().String()})
}

func (g *Gateway) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !g.decode(w, r, &req) {
		return
	}
	mode, ok := sensors.ParseOperationMode(req.Mode)
	if !ok {
		g.writeError(w, http.StatusBadRequest, errors.ResultBadValue.String(),
			fmt.Sprintf("unknown operation mode %q", req.Mode))
		return
	}
	if err := g.proxy.SetOperationMode(mode); err != nil {
		g.writeProxyError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, modeResponse{Mode: mode.String()})
}

func (g *Gateway) handleDump(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := g.proxy.Dump(&buf); err != nil {
		g.logger.Error("Dump failed", "error", err)
		g.writeError(w, http.StatusInternalServerError, "", "dump failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := g.proxy.Health()
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, status)
}

// pathHandle parses the {handle} path value as a decimal or 0x-prefixed
// 32-bit integer.
func (g *Gateway) pathHandle(w http.ResponseWriter, r *http.Request) (int32, bool) {
	raw := r.PathValue("handle")
	v, err := strconv.ParseInt(raw, 0, 64)
	if err != nil || v < -1<<31 || v > 1<<32-1 {
		g.writeError(w, http.StatusBadRequest, errors.ResultBadValue.String(),
			fmt.Sprintf("invalid sensor handle %q", raw))
		return 0, false
	}
	// Merged handles with the top bit set arrive as unsigned hex.
	return int32(uint32(v)), true
}

func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			g.writeError(w, http.StatusRequestEntityTooLarge, "",
				fmt.Sprintf("request body exceeds maximum size of %d bytes", tooLarge.Limit))
			return false
		}
		g.writeError(w, http.StatusBadRequest, errors.ResultBadValue.String(), "invalid JSON body")
		return false
	}
	return true
}

func (g *Gateway) writeResult(w http.ResponseWriter, err error) {
	if err != nil {
		g.writeProxyError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, statusResponse{Result: errors.ResultOK.String()})
}

// writeProxyError maps a proxy result to an HTTP status. The full error is
// logged; clients only see the result name.
func (g *Gateway) writeProxyError(w http.ResponseWriter, err error) {
	result := errors.ResultOf(err)
	code := statusFor(result)
	g.logger.Debug("Request rejected", "result", result.String(), "error", err)
	g.writeError(w, code, result.String(), messageFor(result))
}

func statusFor(result errors.Result) int {
	switch result {
	case errors.ResultOK:
		return http.StatusOK
	case errors.ResultBadValue:
		return http.StatusBadRequest
	case errors.ResultPermissionDenied:
		return http.StatusForbidden
	case errors.ResultInvalidOperation:
		return http.StatusConflict
	case errors.ResultNoMemory:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(result errors.Result) string {
	switch result {
	case errors.ResultBadValue:
		return "invalid argument"
	case errors.ResultPermissionDenied:
		return "permission denied"
	case errors.ResultInvalidOperation:
		return "operation not allowed in current state"
	case errors.ResultNoMemory:
		return "resources exhausted"
	default:
		return "internal error"
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.writeError(w, http.StatusInternalServerError, "", "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, result, message string) {
	g.requestsFailed.Add(1)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":  message,
		"status": statusCode,
	}
	if result != "" {
		response["result"] = result
	}

	data, _ := json.Marshal(response)
	_, _ = w.Write(data)
}
