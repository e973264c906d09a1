package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should use the crewmap namespace", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "crewmap")
				So(manager.subsystem, ShouldEqual, "tracker")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithMetricPrefix("test_prefix"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options should be applied", func() {
				So(manager.namespace, ShouldEqual, "test_namespace")
				So(manager.subsystem, ShouldEqual, "test_subsystem")
				So(manager.metricPrefix, ShouldEqual, "test_prefix")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
				So(manager.customLabels["env"], ShouldEqual, "test")
			})
		})

		Convey("When empty options are passed", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithHistogramBuckets(nil),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "crewmap")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording feed metrics", func() {
			before := value(globalManager.feedPositions)
			RecordFeedBatch(3)
			UpdateFeedConnected(true)

			Convey("Then the counters and gauges should move", func() {
				So(value(globalManager.feedPositions), ShouldEqual, before+3)
				So(value(globalManager.feedConnected), ShouldEqual, 1)
			})

			UpdateFeedConnected(false)
			So(value(globalManager.feedConnected), ShouldEqual, 0)
		})

		Convey("When recording reconciler and trail metrics", func() {
			stale := value(globalManager.stalePositions)
			RecordStalePosition()
			UpdateUnresolvedPositions(4)
			UpdateTrailPoints(12)
			UpdateTrailDedupeSize(7)
			drops := value(globalManager.trailNotifyDrops)
			RecordTrailNotificationDropped()

			So(value(globalManager.stalePositions), ShouldEqual, stale+1)
			So(value(globalManager.trailDedupeSize), ShouldEqual, 7)
			So(value(globalManager.trailNotifyDrops), ShouldEqual, drops+1)
			So(value(globalManager.unresolvedPositions), ShouldEqual, 4)
			So(value(globalManager.trailPoints), ShouldEqual, 12)
		})

		Convey("When recording labelled metrics", func() {
			So(func() {
				RecordDeviceRegistration("created")
				RecordChangeNotification("crew_members", "INSERT")
				RecordFeedRequestLatency("positions", 12.5)
				RecordHTTPRequest("/markers", "GET", "200")
				RecordHTTPRequestDuration("/markers", "GET", "200", 1.5)
				RecordErrorByComponent("feed", "fetch")
			}, ShouldNotPanic)
		})

		Convey("When recording queue and worker metrics", func() {
			So(func() {
				UpdateQueueSize(1)
				UpdateQueueCapacity(10)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0.2)
				UpdateWorkerActiveCount(2)
				RecordWorkerProcessingLatency(3)
				RecordWorkerError()
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(8)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
		})

		Convey("Then the custom registry should expose crewmap metrics", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			found := false
			for _, f := range families {
				if f.GetName() == "crewmap_tracker_feed_positions_total" {
					found = true
				}
			}
			So(found, ShouldBeTrue)
		})
	})
}

func value(c prometheus.Metric) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return -1
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}
