package main

// Compiled-in modules. Each registers itself with the core registry on
// import.
import (
	_ "github.com/tutorlab/roomd/internal/cron"
	_ "github.com/tutorlab/roomd/internal/gateway"
	_ "github.com/tutorlab/roomd/internal/matchmaker"
	_ "github.com/tutorlab/roomd/internal/notify"
	_ "github.com/tutorlab/roomd/internal/room"
	_ "github.com/tutorlab/roomd/modules/engine/webhook"
	_ "github.com/tutorlab/roomd/modules/store/redis"
	_ "github.com/tutorlab/roomd/modules/store/sqlite"
)
