package app

import (
	"fmt"

	"loopin/internal/config"
	"loopin/internal/storage"
)

func mapStorageConfig(st config.StorageSettings) (storage.Config, error) {
	switch st.Driver {
	case "file", "badger", "memory":
		return storage.Config{Driver: st.Driver, Path: st.Path}, nil
	case "sqlite", "sqlite3":
		if st.Path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		return storage.Config{Driver: st.Driver, Path: st.Path, BusyTimeout: st.BusyTimeout}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", st.Driver)
	}
}
