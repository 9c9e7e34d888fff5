package middleware

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenstep/internal/appcontext"
	"github.com/pbinitiative/zenstep/internal/config"
	otelint "github.com/pbinitiative/zenstep/internal/otel"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// bodyWrapper wraps a http.Request.Body (an io.ReadCloser) to track the number
// of bytes read and the last error
type bodyWrapper struct {
	io.ReadCloser
	record func(n int64) // must not be nil

	read int64
	err  error
}

func (w *bodyWrapper) Read(b []byte) (int, error) {
	n, err := w.ReadCloser.Read(b)
	n1 := int64(n)
	w.read += n1
	w.err = err
	w.record(n1)
	return n, err
}

func (w *bodyWrapper) Close() error {
	return w.ReadCloser.Close()
}

type respWriterWrapper struct {
	http.ResponseWriter
	record func(n int64) // must not be nil

	// used to inject the header
	ctx context.Context

	props propagation.TextMapPropagator

	written     int64
	statusCode  int
	err         error
	wroteHeader bool
}

func (w *respWriterWrapper) Header() http.Header {
	return w.ResponseWriter.Header()
}

func (w *respWriterWrapper) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	n1 := int64(n)
	w.record(n1)
	w.written += n1
	w.err = err
	return n, err
}

func (w *respWriterWrapper) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.statusCode = statusCode
	w.props.Inject(w.ctx, propagation.HeaderCarrier(w.Header()))
	w.ResponseWriter.WriteHeader(statusCode)
}

// Opentelemetry returns middleware that will trace and meter incoming requests.
// The session header of the request is added to the span and to the request context.
func Opentelemetry(conf config.Config) func(next http.Handler) http.Handler {
	tracer := otel.GetTracerProvider().Tracer("http-request-middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			opts := []trace.SpanStartOption{
				trace.WithLinks(trace.LinkFromContext(r.Context())),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.ServiceName(conf.Tracing.Name),
				),
				trace.WithSpanKind(trace.SpanKindServer),
			}
			if sessionId := r.Header.Get(otelint.SessionHeader); sessionId != "" {
				opts = append(opts, trace.WithAttributes(otelint.SessionIdKey.String(sessionId)))
				ctx = appcontext.WithSessionId(ctx, sessionId)
			}
			ctx, span := tracer.Start(ctx, "request", opts...)

			// pass the span through the request context
			r = r.WithContext(ctx)

			var bw bodyWrapper
			// if request body is nil we don't want to mutate the body as it will affect
			// the identity of it in a unforeseeable way because we assert ReadCloser
			// fullfills a certain interface and it is indeed nil.
			if r.Body != nil {
				bw.ReadCloser = r.Body
				bw.record = func(n int64) {
					span.AddEvent("read", trace.WithAttributes(otelhttp.ReadBytesKey.Int64(n)))
				}
				r.Body = &bw
			}
			writeRecordFunc := func(n int64) {
				span.AddEvent("write", trace.WithAttributes(otelhttp.WroteBytesKey.Int64(n)))
			}
			rww := &respWriterWrapper{ResponseWriter: w, record: writeRecordFunc, ctx: ctx, props: otel.GetTextMapPropagator()}

			defer span.End()

			startTime := time.Now()
			// serve the request to the next middleware and get route pattern
			next.ServeHTTP(rww, r)

			routePattern := chi.RouteContext(r.Context()).RoutePattern()
			span.SetName(routePattern)
			span.SetAttributes(semconv.HTTPRoute(routePattern))

			setAfterServeTracing(span, bw.read, rww.written, rww.statusCode, bw.err, rww.err)
			setAfterServeMetrics(routePattern, r, rww, startTime)
		})
	}
}

func setAfterServeMetrics(routePattern string, r *http.Request, rww *respWriterWrapper, startTime time.Time) {
	tags := []attribute.KeyValue{
		attribute.String("path", routePattern),
		attribute.String("method", r.Method),
		attribute.Int("status", rww.statusCode),
	}
	otelint.RequestTotal.Add(r.Context(), 1)
	otelint.RequestUriTotal.Add(r.Context(), 1, metric.WithAttributes(tags...))
	if r.ContentLength >= 0 {
		otelint.RequestBodySize.Add(r.Context(), float64(r.ContentLength), metric.WithAttributes(tags...))
	}
	if rww.written > 0 {
		otelint.ResponseBodySize.Add(r.Context(), float64(rww.written), metric.WithAttributes(tags...))
	}
	latency := time.Since(startTime)
	otelint.RequestDuration.Record(r.Context(), latency.Seconds()*1000, metric.WithAttributes(tags...))
}

func setAfterServeTracing(span trace.Span, read, wrote int64, statusCode int, rerr, werr error) {
	attributes := []attribute.KeyValue{}

	if read > 0 {
		attributes = append(attributes, otelint.ReadBytesKey.Int64(read))
	}
	if rerr != nil && rerr != io.EOF {
		attributes = append(attributes, otelint.ReadErrorKey.String(rerr.Error()))
	}
	if wrote > 0 {
		attributes = append(attributes, otelint.WroteBytesKey.Int64(wrote))
	}
	if statusCode > 0 {
		attributes = append(attributes, semconv.HTTPResponseStatusCode(statusCode))
		if statusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(statusCode))
		}
	}
	if werr != nil && werr != io.EOF {
		span.RecordError(werr)
		attributes = append(attributes, otelint.WriteErrorKey.String(werr.Error()))
	}
	span.SetAttributes(attributes...)
}
