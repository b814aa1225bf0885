// Package influxdb mirrors meter readings into an InfluxDB v2 bucket.
//
// Client implements collector.Recorder: every successful read becomes one
// point in the "pzem016" measurement, tagged with unit, gateway and
// breaker, with one field per metric. Points are batched by the official
// client and flushed every flush_interval seconds or batch_size points.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { log.Warn("influx write failed", "error", err) })
package influxdb
