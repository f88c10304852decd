// Package group implements ordered sets of global ranks.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package group_test

import (
	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/group"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Group", func() {
	var (
		a     *group.Group
		empty *group.Group
	)

	BeforeEach(func() {
		a = group.New(0, 1, 2, 3)
		empty = group.New()
	})

	Describe("set algebra", func() {
		It("union with itself is itself", func() {
			Expect(a.Union(a).Compare(a)).To(Equal(group.Ident))
		})
		It("union keeps receiver order and appends novel ranks", func() {
			u := group.New(2, 7).Union(group.New(1, 2))
			Expect(u.Ranks()).To(Equal([]int{2, 7, 1}))
		})
		It("intersection with the empty group is empty", func() {
			Expect(a.Intersection(empty).Size()).To(BeZero())
		})
		It("difference with itself is empty", func() {
			Expect(a.Difference(a).Size()).To(BeZero())
		})
		It("drops duplicates at construction", func() {
			Expect(group.New(5, 5, 6).Ranks()).To(Equal([]int{5, 6}))
		})
	})

	Describe("compare", func() {
		It("is IDENT against itself", func() {
			Expect(a.Compare(a)).To(Equal(group.Ident))
		})
		It("is SIMILAR against a permutation", func() {
			b := group.New(3, 1, 2, 0)
			Expect(a.Compare(b)).To(Equal(group.Similar))
		})
		It("is UNEQUAL against different members", func() {
			Expect(a.Compare(group.New(0, 1, 2, 9))).To(Equal(group.Unequal))
			Expect(a.Compare(group.New(0, 1, 2))).To(Equal(group.Unequal))
		})
	})

	Describe("incl/excl", func() {
		It("incl picks positions in order", func() {
			g, err := a.Incl(3, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Ranks()).To(Equal([]int{3, 0}))
		})
		It("incl rejects out-of-range positions", func() {
			_, err := a.Incl(4)
			Expect(err).To(BeAssignableToTypeOf(&cmn.ErrNoSuchRank{}))
		})
		It("excl keeps the remainder in order", func() {
			g, err := a.Excl(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Ranks()).To(Equal([]int{0, 2, 3}))
		})
	})

	Describe("range triplets", func() {
		It("expands positive strides", func() {
			g, err := a.RangeIncl([3]int{0, 3, 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Ranks()).To(Equal([]int{0, 2}))
		})
		It("expands negative strides", func() {
			g, err := a.RangeIncl([3]int{3, 0, -1})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Ranks()).To(Equal([]int{3, 2, 1, 0}))
		})
		It("rejects zero stride", func() {
			_, err := a.RangeIncl([3]int{0, 3, 0})
			Expect(err).To(BeAssignableToTypeOf(&cmn.ErrInvalidStride{}))
		})
		It("rejects unreachable ranges", func() {
			_, err := a.RangeIncl([3]int{3, 0, 1})
			Expect(err).To(BeAssignableToTypeOf(&cmn.ErrInvalidRange{}))
		})
		It("rejects out-of-bound ranges", func() {
			_, err := a.RangeExcl([3]int{0, 4, 1})
			Expect(err).To(BeAssignableToTypeOf(&cmn.ErrInvalidRange{}))
		})
	})

	Describe("rank translation", func() {
		It("maps missing ranks to UNDEFINED", func() {
			allButLast, err := a.Excl(3)
			Expect(err).NotTo(HaveOccurred())
			out, err := a.TranslateRanks([]int{0, 1, 2, 3}, allButLast)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]int{0, 1, 2, cmn.Undefined}))
		})
		It("round-trips on the intersection", func() {
			b := group.New(3, 1, 2, 0)
			fwd, err := a.TranslateRanks([]int{0, 1, 2, 3}, b)
			Expect(err).NotTo(HaveOccurred())
			back, err := b.TranslateRanks(fwd, a)
			Expect(err).NotTo(HaveOccurred())
			Expect(back).To(Equal([]int{0, 1, 2, 3}))
		})
		It("rejects positions outside the group", func() {
			_, err := a.TranslateRanks([]int{4}, empty)
			Expect(err).To(BeAssignableToTypeOf(&cmn.ErrNoSuchRank{}))
		})
	})
})
