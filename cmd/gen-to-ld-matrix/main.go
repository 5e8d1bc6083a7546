// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import ldmatrix "github.com/Stahl-Lab-MSSM/gen-to-ld-matrix"

func main() {
	ldmatrix.Main()
}
