// Package config loads and validates the sensor hub configuration.
//
// Configuration starts from Default and is overlaid by any number of JSON or
// YAML files (chosen by extension), then by SENSORHUB_* environment variables.
// Maps merge key by key; lists such as backends are replaced wholesale.
// Durations are written as Go duration strings ("5s", "20ms").
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/sensorhub.yaml")
//	loader.AddLayer("configs/local.json")
//	cfg, err := loader.Load()
//
// A minimal YAML file declaring two fake backends:
//
//	proxy:
//	  event_queue_capacity: 128
//	  wakelock_backend: none
//	backends:
//	  - name: imu
//	    kind: fake
//	    rate: 20ms
//	    sensors:
//	      - {handle: 1, name: accel, type: accelerometer, direct_channel: [ashmem], direct_rate: FAST}
//	  - name: env
//	    kind: fake
//	    sensors:
//	      - {handle: 1, name: prox, type: proximity, reporting_mode: on_change, wake_up: true}
//
// SafeConfig guards a validated Config for concurrent readers.
package config
