package migrate

import (
	"context"
	"testing"

	"susm/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if v, err := Current(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh db version = %d, %v", v, err)
	}
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, conn); err != nil {
			t.Fatalf("migrate #%d: %v", i, err)
		}
	}
	latest, err := Latest()
	if err != nil {
		t.Fatal(err)
	}
	v, err := Current(ctx, conn)
	if err != nil || v != latest || v == 0 {
		t.Fatalf("version = %d (latest %d), %v", v, latest, err)
	}
}
