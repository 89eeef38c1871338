// Package influxdb mirrors ingested meter readings into InfluxDB.
//
// The mirror is optional (influxdb.enabled) and best effort: SQLite stays
// the system of record and the aggregation engine never reads from here.
// Each reading becomes one point in the "meter_readings" measurement,
// tagged by device_id and serial_number, timestamped with the reading time.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without a mirror
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { logger.Warn("influx write failed", "error", err) })
//	client.WriteReading(reading)
//
// Writes are batched according to batch_size and flush_interval.
package influxdb
