package oracle

import "testing"

func TestDeriveAssociatedTokenAccount_Deterministic(t *testing.T) {
	wallet := "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	mint := "So11111111111111111111111111111111111111112"

	ata1, err := deriveAssociatedTokenAccount(wallet, mint)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	ata2, err := deriveAssociatedTokenAccount(wallet, mint)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if ata1 != ata2 {
		t.Errorf("expected deterministic derivation, got %s and %s", ata1, ata2)
	}
	if ata1 == wallet || ata1 == mint {
		t.Errorf("derived address must differ from its seeds")
	}
}

func TestDeriveAssociatedTokenAccount_DifferentMintsDiffer(t *testing.T) {
	wallet := "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"

	a, err := deriveAssociatedTokenAccount(wallet, "So11111111111111111111111111111111111111112")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := deriveAssociatedTokenAccount(wallet, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if a == b {
		t.Error("expected different ATAs for different mints")
	}
}

func TestDeriveAssociatedTokenAccount_InvalidBase58(t *testing.T) {
	_, err := deriveAssociatedTokenAccount("not-base58!!", "So11111111111111111111111111111111111111112")
	if err == nil {
		t.Error("expected error for invalid base58 wallet")
	}
}

func TestIsOnCurve_RejectsWrongLength(t *testing.T) {
	if isOnCurve([]byte{1, 2, 3}) {
		t.Error("expected short input to be rejected")
	}
}
