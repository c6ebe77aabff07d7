// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

//go:build integration

package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/cinderhost/cinder/internal/datafile"
	"github.com/cinderhost/cinder/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var migrator *store.Migrator

	BeforeAll(func() {
		var err error
		migrator, err = store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = migrator.Close() })
	})

	It("rolls back to version zero", func() {
		Expect(migrator.Down()).To(Succeed())
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())
	})

	It("applies, steps back and reapplies", func() {
		Expect(migrator.Up()).To(Succeed())
		latest, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(latest).To(BeNumerically(">", 0))

		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(latest - 1))

		Expect(migrator.Up()).To(Succeed())
		pending, err := migrator.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})
})

var _ = Describe("DatafileStore", Ordered, func() {
	var (
		ctx = context.Background()
		s   *store.DatafileStore
	)

	BeforeAll(func() {
		migrator, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		s, err = store.Connect(ctx, dsn, store.DefaultConnectOptions())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)
	})

	It("reports a missing datafile as not found", func() {
		body, found, err := s.Load(ctx, "nothing_here")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeFalse())
		Expect(body).To(BeEmpty())
	})

	It("round-trips through the datafile registry", func() {
		reg := datafile.NewRegistry(s)
		d, err := reg.Get(ctx, "score_alice")
		Expect(err).NotTo(HaveOccurred())
		d.SetText("42")
		Expect(reg.SaveAll(ctx)).To(Succeed())

		again, err := reg.Get(ctx, "score_alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(BeIdenticalTo(d))
		Expect(again.Text()).To(Equal("42"))
	})

	It("lists by literal prefix", func() {
		Expect(s.Save(ctx, "score_bob", "7")).To(Succeed())
		Expect(s.Save(ctx, "scorexcarol", "1")).To(Succeed())

		names, err := s.List(ctx, "score_")
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(Equal([]string{"score_alice", "score_bob"}))
	})

	It("removes datafiles", func() {
		removed, err := s.Remove(ctx, "score_bob")
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeTrue())

		removed, err = s.Remove(ctx, "score_bob")
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeFalse())
	})
})
