// Package suite loads named collections of device instances from YAML
// documents and opens them through a device.Manager.
//
// A suite document names the configuration and maps instance references
// ("base" or "base.name") to the variant and parameters each device is
// opened with:
//
//	name: lab bench
//	devices:
//	  temperature_controller.hot_bb:
//	    variant: tc4820
//	    params:
//	      port: /dev/ttyUSB0
//	  spectrometer:
//	    variant: dummy
//
// Load validates the document against a device.Registry so that a bad
// suite fails before any hardware is touched; every validation error
// names the offending instance. Open opens the devices in sorted
// instance order and rolls back the instances already opened when one
// fails. Save writes a suite back out as YAML.
package suite
