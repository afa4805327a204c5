package stores

import (
	"context"
	"path/filepath"
	"testing"
)

func TestGetStore(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"default memory", map[string]string{"STORAGE_TYPE": ""}, false},
		{"memory", map[string]string{"STORAGE_TYPE": "memory"}, false},
		{"filesystem", map[string]string{"STORAGE_TYPE": "filesystem", "LOCAL_STORAGE_PATH": "fs"}, false},
		{"s3 without bucket", map[string]string{"STORAGE_TYPE": "s3", "S3_BUCKET_NAME": ""}, true},
		{"unknown", map[string]string{"STORAGE_TYPE": "tape"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for k, v := range tt.env {
				if k == "LOCAL_STORAGE_PATH" {
					v = filepath.Join(dir, v)
				}
				t.Setenv(k, v)
			}

			store, err := GetStore(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetStore() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && store == nil {
				t.Fatal("GetStore() returned nil store")
			}
		})
	}
}
