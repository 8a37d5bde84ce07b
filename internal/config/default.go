package config

// DefaultTOML is printed by the default-config command.
const DefaultTOML = `# button-sensor configuration
# NOTE: pins are GPIO line offsets on the chip (BCM numbering on a Raspberry Pi)

# How often every button is sampled
poll_ms = 10

# Status heartbeat on the system topic, 0 disables
heartbeat_ms = 900000

# panic, fatal, error, warn, info, debug, trace
log_level = "info"

[gpio]
chip = "gpiochip0"

[mqtt]
broker = "tcp://127.0.0.1:1883"
client_id = "button-sensor"
# Events go to <prefix>/events, lifecycle to <prefix>/system,
# and ENABLE/DISABLE commands are read from <prefix>/<id>/set
topic_prefix = "home/buttons"
# Messages kept while the broker is unreachable
buffer_size = 100

[http]
# Status page, JSON and live websocket; empty disables
addr = ":8080"

[[button]]
id = 1
name = "volume-up"
pin = 5
# Level of the released button; a pull-up with a switch to ground idles at 1
normal_level = 1
bias = "pull-up"
# Time a new level must persist, 0 disables debouncing
debounce_ms = 50
# Time held before a press becomes a long press
long_press_ms = 1000

[[button]]
id = 2
name = "volume-down"
pin = 6
normal_level = 1
bias = "pull-up"
debounce_ms = 50
long_press_ms = 1000

[[button]]
id = 3
name = "mode"
pin = 13
normal_level = 1
bias = "pull-up"
debounce_ms = 50
long_press_ms = 1000
# Uncomment to start with the button ignored
# enabled = false
`
