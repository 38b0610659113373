// Package telemetry はOpenTelemetryのトレース出力を構成する。
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName はリソース属性service.nameの値。
const ServiceName = "certman"

// ShutdownFunc は未送信のスパンを書き出してプロバイダーを停止する。
type ShutdownFunc func(ctx context.Context) error

// SetupTracing はexporterに従ってTracerProviderを構成し、グローバルに登録する。
// exporterが"none"または空の場合は何も登録せず、otelの既定（no-op）のままとする。
// "stdout"の場合はスパンをJSONでwに書き出す。
func SetupTracing(exporter string, w io.Writer) (ShutdownFunc, error) {
	switch exporter {
	case "", "none":
		return func(context.Context) error { return nil }, nil
	case "stdout":
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %q", exporter)
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
	}

	tp := NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// NewTracerProvider はservice.nameを付与したTracerProviderを生成する。
func NewTracerProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(attribute.String("service.name", ServiceName))
	opts = append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)
	return sdktrace.NewTracerProvider(opts...)
}
